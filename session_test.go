package quill

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quill/lib/envelope"
	"github.com/pthm/quill/lib/route"
)

func connect(t *testing.T, app *App, path string) (*TestClient, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	c, err := NewTestClient(ctx, app, path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, ctx
}

func next(t *testing.T, ctx context.Context, c *TestClient) *ServerMessage {
	t.Helper()
	msg, err := c.Next(ctx)
	require.NoError(t, err)
	return msg
}

// expectQuiet asserts that the server sends nothing for a short while.
func expectQuiet(t *testing.T, c *TestClient) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	msg, err := c.Next(ctx)
	if !assert.ErrorIs(t, err, context.DeadlineExceeded) {
		t.Logf("unexpected message: %+v", msg)
	}
}

func byID(n *TestNode, id string) *TestNode {
	return n.Find(func(c *TestNode) bool { return c.Attributes["id"] == id })
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

// errorSink collects errors passed to OnError.
func errorSink() (Option, <-chan error) {
	ch := make(chan error, 16)
	return WithErrorHandler(func(_ *Session, err error) error {
		ch <- err
		return nil
	}), ch
}

func receiveError(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
		return nil
	}
}

func newCounterApp(t *testing.T, opts ...Option) (*App, counterState) {
	t.Helper()
	s := newCounterState()
	app := New(opts...)
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			st, err := s.def.Instance(ctx)
			if err != nil {
				return nil, err
			}
			n := s.count.From(st)
			return Container(
				El("span").Attr("id", "count").SetText(strconv.Itoa(n)),
				El("button").Attr("id", "inc").SetText("+").OnClick(func(ctx context.Context, _ EventData) error {
					return s.def.Set(ctx, s.count.Val(n+1))
				}),
				El("button").Attr("id", "five").SetText("5").OnClick(func(ctx context.Context, _ EventData) error {
					return s.def.Set(ctx, s.count.Val(5))
				}),
				El("button").Attr("id", "bad").SetText("bad").OnClick(func(ctx context.Context, _ EventData) error {
					return st.SetMap(map[string]any{"count": "abc"})
				}),
			), nil
		})
	})
	return app, s
}

func TestSessionInitialRender(t *testing.T) {
	app, _ := newCounterApp(t)
	c, ctx := connect(t, app, "/")

	msg := next(t, ctx, c)
	assert.Equal(t, ActionRenderPage, msg.Action)
	assert.Equal(t, "/", msg.Path)
	require.Len(t, msg.Content, 1, "no style node without global styles")

	root := msg.Root()
	require.NotNil(t, root)
	assert.Equal(t, "div", root.Tag)
	assert.Equal(t, "0", byID(root, "count").InnerText())

	classes := strings.Fields(root.Attributes["class"])
	require.Len(t, classes, 1)
	assert.True(t, strings.HasPrefix(classes[0], "quill-page-home-"))
}

func TestSessionCallbackRendersOnce(t *testing.T) {
	app, s := newCounterApp(t)
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "five").Handler("click")))
	msg = next(t, ctx, c)
	assert.Equal(t, "5", byID(msg.Root(), "count").InnerText())
	expectQuiet(t, c)

	sess := app.Sessions()[0]
	n, err := s.count.Read(withSession(ctx, sess))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, float64(1), counterValue(t, app.metrics.callbacks.WithLabelValues("ok")))
}

func TestSessionInvalidStateValue(t *testing.T) {
	sink, errs := errorSink()
	app, _ := newCounterApp(t, sink)
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "bad").Handler("click")))
	err := receiveError(t, errs)
	assert.ErrorIs(t, err, ErrFieldType)
	expectQuiet(t, c)

	// ids from the last successful render stay valid
	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "inc").Handler("click")))
	msg = next(t, ctx, c)
	assert.Equal(t, "1", byID(msg.Root(), "count").InnerText())
}

func TestSessionStaleCallbackIgnored(t *testing.T) {
	app, _ := newCounterApp(t)
	c, ctx := connect(t, app, "/")
	first := next(t, ctx, c)
	stale := byID(first.Root(), "inc").Handler("click")

	require.NoError(t, c.Callback(ctx, stale))
	msg := next(t, ctx, c)
	assert.Equal(t, "1", byID(msg.Root(), "count").InnerText())
	assert.NotEqual(t, stale, byID(msg.Root(), "inc").Handler("click"), "ids are reissued every render")

	require.NoError(t, c.Callback(ctx, stale))
	expectQuiet(t, c)
	assert.Equal(t, float64(1), counterValue(t, app.metrics.callbacks.WithLabelValues("unknown")))

	require.NoError(t, c.Callback(ctx, "no-such-id"))
	expectQuiet(t, c)
}

func TestSessionKeyedStateSurvivesParentRender(t *testing.T) {
	s := newCounterState()
	app := New()
	item := func(key string) *Component {
		return NewComponent(key, func(ctx context.Context, c *Component) (Node, error) {
			v, set := UseState(c, 0)
			return El("li").Append(
				El("span").Attr("id", key+"-value").SetText(strconv.Itoa(v)),
				El("button").Attr("id", key+"-inc").OnClick(Func(func() { set.Set(v + 1) })),
			), nil
		})
	}
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			n, err := s.count.Read(ctx)
			if err != nil {
				return nil, err
			}
			return El("div",
				El("button").Attr("id", "parent").SetText(strconv.Itoa(n)).OnClick(func(ctx context.Context, _ EventData) error {
					return s.def.Set(ctx, s.count.Val(n+1))
				}),
				El("ul", item("item-1"), item("item-2")),
			), nil
		})
	})

	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)
	require.NotNil(t, msg.Root().FindKey("item-1"))

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "item-1-inc").Handler("click")))
	msg = next(t, ctx, c)
	assert.Equal(t, "1", byID(msg.Root(), "item-1-value").InnerText())
	assert.Equal(t, "0", byID(msg.Root(), "item-2-value").InnerText())

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "parent").Handler("click")))
	msg = next(t, ctx, c)
	assert.Equal(t, "1", byID(msg.Root(), "parent").InnerText())
	assert.Equal(t, "1", byID(msg.Root(), "item-1-value").InnerText(), "keyed state survives the parent render")
}

func TestSessionEventData(t *testing.T) {
	got := make(chan EventData, 2)
	app := New()
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			return El("input").Attr("id", "name").On("input", func(ctx context.Context, d EventData) error {
				got <- d
				return nil
			}), nil
		})
	})
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)
	id := byID(msg.Root(), "name").Handler("input")

	require.NoError(t, c.EventCallback(ctx, id, `{"value":"hello"}`))
	d := <-got
	assert.Equal(t, "hello", d.String("value"))
	next(t, ctx, c)

	require.NoError(t, c.EventCallback(ctx, id, "not json"))
	d = <-got
	assert.Empty(t, d)
	next(t, ctx, c)

	require.NoError(t, c.EventCallback(ctx, id, map[string]any{"checked": true}))
	d = <-got
	assert.True(t, d.Bool("checked"))
}

func TestSessionNavigation(t *testing.T) {
	instances := 0
	app := New()
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			return El("button").Attr("id", "go").OnClick(func(ctx context.Context, _ EventData) error {
				return Navigate(ctx, "/users/7")
			}), nil
		})
	})
	app.MustPage("/users/{id}", func() Page {
		instances++
		return PageFunc(func(ctx context.Context, p route.Params) (Node, error) {
			return El("h1").SetText("user " + p["id"] + " at " + CurrentPath(ctx)), nil
		})
	})

	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "go").Handler("click")))
	msg = next(t, ctx, c)
	assert.Equal(t, "/users/7", msg.Path)
	assert.Equal(t, "user 7 at /users/7", msg.Root().FindTag("h1").InnerText())
	expectQuiet(t, c)

	require.NoError(t, c.Navigate(ctx, "/users/8/"))
	msg = next(t, ctx, c)
	assert.Equal(t, "user 8 at /users/8/", msg.Root().FindTag("h1").InnerText())
	assert.Equal(t, 1, instances, "same page definition keeps its instance")

	require.NoError(t, c.Navigate(ctx, ""))
	msg = next(t, ctx, c)
	assert.Equal(t, "/", msg.Path, "empty navigation goes home")
}

func TestSessionNotFound(t *testing.T) {
	t.Run("without not found page", func(t *testing.T) {
		sink, errs := errorSink()
		app, _ := newCounterApp(t, sink)
		c, ctx := connect(t, app, "/")
		next(t, ctx, c)

		require.NoError(t, c.Navigate(ctx, "/missing"))
		assert.True(t, IsNotFound(receiveError(t, errs)))
		expectQuiet(t, c)
		assert.Equal(t, "/", app.Sessions()[0].Path())
		assert.Equal(t, float64(1), counterValue(t, app.metrics.routeMisses))
	})

	t.Run("with not found page", func(t *testing.T) {
		app, _ := newCounterApp(t)
		app.NotFound(func() Page {
			return PageFunc(func(ctx context.Context, p route.Params) (Node, error) {
				return El("h1").SetText("no page at " + p["path"]), nil
			})
		})
		c, ctx := connect(t, app, "/")
		next(t, ctx, c)

		require.NoError(t, c.Navigate(ctx, "/missing/"))
		msg := next(t, ctx, c)
		assert.Equal(t, "/missing/", msg.Path)
		assert.Equal(t, "no page at /missing", msg.Root().FindTag("h1").InnerText())
	})
}

func TestSessionRedirect(t *testing.T) {
	app := New()
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			return El("a").Attr("id", "out").OnClick(func(ctx context.Context, _ EventData) error {
				return Redirect(ctx, "https://example.com/docs")
			}), nil
		})
	})
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "out").Handler("click")))
	msg = next(t, ctx, c)
	assert.Equal(t, ActionRedirect, msg.Action)
	assert.Equal(t, "https://example.com/docs", msg.URL)
	expectQuiet(t, c)

	require.NoError(t, c.Navigate(ctx, "http://example.org"))
	msg = next(t, ctx, c)
	assert.Equal(t, ActionRedirect, msg.Action)
	assert.Equal(t, "http://example.org", msg.URL)
}

func TestSessionGlobalStyles(t *testing.T) {
	app, _ := newCounterApp(t)
	app.GlobalStyle("body { margin: 0; }")
	app.GlobalStyle(".btn { color: red; }")

	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.Len(t, msg.Content, 2)
	style := msg.Content[0]
	assert.Equal(t, "style", style.Tag)
	assert.Equal(t, StyleNodeID, style.Attributes["id"])
	assert.Equal(t, "body { margin: 0; }\n.btn { color: red; }", *style.Text)
	assert.Same(t, style, msg.Styles())
	assert.Equal(t, "0", byID(msg.Root(), "count").InnerText())
}

func TestSessionRequestRenderFromGoroutine(t *testing.T) {
	var value atomic.Int64
	app := New()
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			return El("div",
				El("span").Attr("id", "value").SetText(strconv.FormatInt(value.Load(), 10)),
				El("button").Attr("id", "later").OnClick(func(ctx context.Context, _ EventData) error {
					go func() {
						value.Store(42)
						_ = RequestRender(ctx)
					}()
					return nil
				}),
			), nil
		})
	})
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	value.Store(7)
	app.Sessions()[0].RequestRender()
	msg = next(t, ctx, c)
	assert.Equal(t, "7", byID(msg.Root(), "value").InnerText())

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "later").Handler("click")))
	// the callback render and the background one may coalesce
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg = next(t, ctx, c)
		if byID(msg.Root(), "value").InnerText() == "42" {
			return
		}
	}
	t.Fatal("background render never arrived")
}

func TestSessionPageRenderError(t *testing.T) {
	sink, errs := errorSink()
	fail := false
	app := New(sink)
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return El("button").Attr("id", "b").OnClick(Func(func() { fail = true })), nil
		})
	})
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "b").Handler("click")))
	err := receiveError(t, errs)
	assert.ErrorContains(t, err, "boom")
	expectQuiet(t, c)
	assert.Equal(t, float64(1), counterValue(t, app.metrics.renders.WithLabelValues("error")))
}

func TestSessionHandlerPanicStaysInSession(t *testing.T) {
	sink, errs := errorSink()
	app, _ := newCounterApp(t, sink)
	app.MustPage("/explode", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			return El("button").Attr("id", "boom").OnClick(func(context.Context, EventData) error {
				var m map[string]int
				m["x"] = 1
				return nil
			}), nil
		})
	})

	a, ctx := connect(t, app, "/explode")
	msgA := next(t, ctx, a)
	b, _ := connect(t, app, "/")
	msgB := next(t, ctx, b)

	require.NoError(t, a.Callback(ctx, byID(msgA.Root(), "boom").Handler("click")))
	err := receiveError(t, errs)
	assert.True(t, IsPanic(err), "got %v", err)
	assert.ErrorContains(t, err, "nil map")
	expectQuiet(t, a)

	require.NoError(t, a.Navigate(ctx, "/"))
	assert.Equal(t, "/", next(t, ctx, a).Path, "the panicking session keeps running")

	require.NoError(t, b.Callback(ctx, byID(msgB.Root(), "inc").Handler("click")))
	assert.Equal(t, "1", byID(next(t, ctx, b).Root(), "count").InnerText())

	assert.Len(t, app.Sessions(), 2)
	assert.Equal(t, float64(1), counterValue(t, app.metrics.panics))
}

func TestSessionRenderPanicStaysInSession(t *testing.T) {
	sink, errs := errorSink()
	explode := false
	app := New(sink)
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			return Container(
				NewComponent("fragile", func(ctx context.Context, c *Component) (Node, error) {
					if explode {
						panic("render failed")
					}
					return El("button").Attr("id", "arm").OnClick(Func(func() { explode = true })), nil
				}),
			), nil
		})
	})
	app.MustPage("/calm", staticPage("calm"))

	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "arm").Handler("click")))
	err := receiveError(t, errs)
	assert.ErrorIs(t, err, ErrPanic)
	assert.ErrorContains(t, err, "render failed")

	require.NoError(t, c.Navigate(ctx, "/calm"))
	msg = next(t, ctx, c)
	assert.Equal(t, "calm", msg.Root().InnerText())
}

func TestSessionStyleFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.css")
	require.NoError(t, os.WriteFile(path, []byte("h1 { color: blue; }"), 0o600))

	app, _ := newCounterApp(t)
	app.GlobalStyle("body { margin: 0; }")
	require.NoError(t, app.StyleFiles(path))
	require.NoError(t, app.StyleFS(fstest.MapFS{"theme.css": {Data: []byte(".btn { color: red; }")}}, "theme.css"))

	err := app.StyleFiles(path, filepath.Join(dir, "missing.css"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// contents are read once, at registration
	require.NoError(t, os.WriteFile(path, []byte("h1 { color: green; }"), 0o600))

	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)
	require.NotNil(t, msg.Styles())
	assert.Equal(t, "body { margin: 0; }\nh1 { color: blue; }\n.btn { color: red; }", *msg.Styles().Text)
}

func TestSessionClientMessagesWithoutRender(t *testing.T) {
	app, _ := newCounterApp(t)
	c, ctx := connect(t, app, "/")
	next(t, ctx, c)

	require.NoError(t, c.ReportError(ctx, "TypeError: x is undefined"))
	expectQuiet(t, c)

	require.NoError(t, c.Send(ctx, map[string]any{"action": "dance"}))
	expectQuiet(t, c)
}

func TestSessionDropsBadFrames(t *testing.T) {
	app, _ := newCounterApp(t)
	c, ctx := connect(t, app, "/")
	next(t, ctx, c)

	require.NoError(t, c.SendRaw(ctx, []byte("{not json")))
	bad, err := json.Marshal(Frame{Action: envelope.ActionEncryptedMessage, Data: "AAAA", Nonce: "AAAAAAAAAAAAAAAA"})
	require.NoError(t, err)
	require.NoError(t, c.SendRaw(ctx, bad))
	wrong, err := json.Marshal(Frame{Action: envelope.ActionPublicKey, Key: "AAAA"})
	require.NoError(t, err)
	require.NoError(t, c.SendRaw(ctx, wrong))
	expectQuiet(t, c)

	// the session is still usable
	require.NoError(t, c.Navigate(ctx, "/"))
	msg := next(t, ctx, c)
	assert.Equal(t, ActionRenderPage, msg.Action)

	assert.Equal(t, float64(1), counterValue(t, app.metrics.protocolErrors.WithLabelValues("json")))
	assert.Equal(t, float64(1), counterValue(t, app.metrics.protocolErrors.WithLabelValues("decrypt")))
	assert.Equal(t, float64(1), counterValue(t, app.metrics.protocolErrors.WithLabelValues("format")))
}

func TestSessionCleanup(t *testing.T) {
	app, _ := newCounterApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := NewTestClient(ctx, app, "/")
	require.NoError(t, err)
	_, err = c.Next(ctx)
	require.NoError(t, err)
	require.Len(t, app.Sessions(), 1)
	assert.Equal(t, 1, app.crypto.Len())

	require.NoError(t, c.Close())
	assert.Empty(t, app.Sessions())
	assert.Equal(t, 0, app.crypto.Len(), "key material is erased")
}

func TestSessionErrorHandlerCloses(t *testing.T) {
	app, _ := newCounterApp(t, WithErrorHandler(func(_ *Session, err error) error {
		return err
	}))
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)

	require.NoError(t, c.Callback(ctx, byID(msg.Root(), "bad").Handler("click")))
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.ErrorIs(t, c.Err(), ErrFieldType)
}

func TestSessionContextCancel(t *testing.T) {
	app, _ := newCounterApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewTestClient(ctx, app, "/")
	require.NoError(t, err)

	cancel()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.NoError(t, c.Err())
}

func TestSessionMsgpackCodec(t *testing.T) {
	got := make(chan EventData, 1)
	app := New(WithCodec(envelope.Msgpack))
	app.MustPage("/", func() Page {
		return PageFunc(func(ctx context.Context, _ route.Params) (Node, error) {
			return El("input").Attr("id", "in").On("change", func(ctx context.Context, d EventData) error {
				got <- d
				return nil
			}), nil
		})
	})
	c, ctx := connect(t, app, "/")
	msg := next(t, ctx, c)
	require.Equal(t, ActionRenderPage, msg.Action)

	require.NoError(t, c.EventCallback(ctx, byID(msg.Root(), "in").Handler("change"), map[string]any{"value": "x"}))
	assert.Equal(t, "x", (<-got).String("value"))
}

func TestHandshakeFailure(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", "hello"},
		{"wrong action", `{"action":"encrypted_message","data":"AAAA"}`},
		{"bad key", `{"action":"public_key","key":"AAAA"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newCounterApp(t)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			client, server := Pipe()
			done := make(chan error, 1)
			go func() { done <- app.ServeConn(ctx, server, "/") }()

			require.NoError(t, client.Write(ctx, []byte(tt.frame)))
			err := <-done
			assert.ErrorIs(t, err, ErrHandshake)
			assert.Empty(t, app.Sessions())
			assert.Equal(t, 0, app.crypto.Len())
		})
	}
}
