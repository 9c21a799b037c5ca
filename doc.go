// Package quill renders reactive user interfaces on the server and streams
// them to a thin browser runtime over an encrypted WebSocket.
//
// The browser never runs application code. It sends events (clicks, input
// changes, navigation) to the server; the server updates state, rebuilds
// the page tree and sends the whole tree back for the client to display.
//
// # Core Concepts
//
// An App maps routes to pages. A Page builds a tree of elements and
// components for a set of route params:
//
//	app := quill.New(quill.WithLogger(log))
//	app.MustPage("/", func() quill.Page { return &Home{} })
//	app.MustPage("/users/{id}", func() quill.Page { return &UserPage{} })
//
// Routes come in five kinds: static ("/about"), dynamic ("/users/{id}"),
// catch-all ("/docs/*"), regex strings ("regex:^/v\d+$") and compiled
// patterns (App.PagePattern). When several routes match, the highest
// priority wins (WithPriority); ties go to the first match in the order
// patterns, regex strings, static, dynamic, catch-all.
//
// # Components and Hooks
//
// A Component is a subtree generator with local state held in positional
// hook slots:
//
//	func Counter(key string) *quill.Component {
//	    return quill.NewComponent(key, func(ctx context.Context, c *quill.Component) (quill.Node, error) {
//	        n, setN := quill.UseState(c, 0)
//	        return quill.El("button").
//	            SetText(strconv.Itoa(n)).
//	            OnClick(quill.Func(func() { setN.Set(n + 1) })), nil
//	    })
//	}
//
// Keyed components keep their slots while their key keeps appearing in the
// page; keys that disappear are evicted after the render pass.
//
// # State
//
// A StateDef declares typed fields with defaults. Every session gets its
// own Store per definition; changing a store re-renders the session's page:
//
//	var (
//	    Count   = quill.Field("count", 0)
//	    Counter = quill.DefineState("counter", Count)
//	)
//
//	err := Counter.Set(ctx, Count.Val(5))
//
// Assignments are type checked. A wrong type or an unknown field rejects
// the whole Set with a *FieldError.
//
// # Sessions
//
// Each connection is served by one goroutine that handles client messages,
// navigation and renders in order. Other goroutines reach a session only
// through Session.RequestRender and Session.Navigate, which queue work and
// never block. Callback ids are valid for one render: every render issues
// fresh ids and ids from older trees are ignored.
//
// # Security Model
//
// The first frame on a connection is an X25519 key exchange. Every later
// frame is AES-256-GCM encrypted with a key derived by HKDF-SHA256 from the
// shared secret and a fresh 12-byte nonce. Frames that fail to decrypt are
// dropped; nothing is ever sent in the clear after the handshake.
//
// # Testing
//
// NewTestClient runs a full encrypted session in memory:
//
//	c, _ := quill.NewTestClient(ctx, app, "/")
//	msg, _ := c.Next(ctx)
//	_ = c.Callback(ctx, msg.Root().FindTag("button").Handler("click"))
package quill
