package quill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pthm/quill/lib/envelope"
	"github.com/pthm/quill/lib/route"
)

// shutdownTimeout bounds graceful shutdown in ListenAndServe.
const shutdownTimeout = 5 * time.Second

// App manages page registration, live sessions and the connection
// transport.
type App struct {
	cfg     Config
	log     *zap.Logger
	codec   envelope.Codec
	derive  envelope.KeyDerivation
	crypto  *envelope.Crypto
	routes  *route.Table[*pageDef]
	assets  assets
	metrics *metrics

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	notFound *pageDef
	styles   []string
	sessions map[ConnID]*Session

	// OnError is called on the session goroutine when a callback, a
	// navigation or a render fails. Panics in that code arrive here as
	// ErrPanic errors. Returning a non-nil error closes the connection. The default logs the error and keeps the session; route
	// misses are logged as warnings.
	OnError func(*Session, error) error
}

// New creates an App.
func New(opts ...Option) *App {
	a := &App{
		cfg:      DefaultConfig(),
		log:      zap.NewNop(),
		metrics:  newMetrics(),
		sessions: make(map[ConnID]*Session),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.codec == nil {
		c, ok := envelope.CodecByName(a.cfg.Codec)
		if !ok {
			a.log.Warn("unknown codec, using json", zap.String("codec", a.cfg.Codec))
			c = envelope.JSON
		}
		a.codec = c
	}
	cryptoOpts := []envelope.Option{envelope.WithCodec(a.codec)}
	if a.derive != nil {
		cryptoOpts = append(cryptoOpts, envelope.WithKeyDerivation(a.derive))
	}
	a.crypto = envelope.New(cryptoOpts...)
	a.routes = route.NewTable[*pageDef](a.cfg.RouteCache)
	a.assets = assets{url: a.cfg.AssetsURL, mount: a.cfg.AssetsMount}

	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Every frame after the handshake is authenticated by the envelope.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	if a.OnError == nil {
		a.OnError = func(s *Session, err error) error {
			if IsNotFound(err) {
				s.Logger().Warn("no route for path", zap.Error(err))
				return nil
			}
			s.Logger().Error("session error", zap.Error(err))
			return nil
		}
	}
	return a
}

// Config returns the App configuration.
func (a *App) Config() Config {
	return a.cfg
}

// Logger returns the App logger.
func (a *App) Logger() *zap.Logger {
	return a.log
}

// Page registers a page factory under a route declaration:
//
//	app.Page("/", func() quill.Page { return &HomePage{} })
//	app.Page("/users/{id}", newUserPage, quill.WithPriority(10))
//	app.Page("/docs/*", newDocsPage)
//	app.Page(`regex:^/v\d+/.*$`, newVersionedPage)
//
// A declaration already registered for the same kind returns an error
// wrapping ErrDuplicateRoute.
func (a *App) Page(decl string, factory func() Page, opts ...PageOption) error {
	def := newPageDef(factory, opts)
	r, err := a.routes.Add(decl, def.priority, def)
	return a.bind(def, r, err)
}

// PagePattern registers a page under a compiled expression.
func (a *App) PagePattern(re *regexp.Regexp, factory func() Page, opts ...PageOption) error {
	def := newPageDef(factory, opts)
	r, err := a.routes.AddPattern(re, def.priority, def)
	return a.bind(def, r, err)
}

// PageFunc registers a stateless page.
func (a *App) PageFunc(decl string, fn PageFunc, opts ...PageOption) error {
	return a.Page(decl, func() Page { return fn }, opts...)
}

// MustPage is like Page but panics on error.
func (a *App) MustPage(decl string, factory func() Page, opts ...PageOption) {
	if err := a.Page(decl, factory, opts...); err != nil {
		panic(err)
	}
}

func newPageDef(factory func() Page, opts []PageOption) *pageDef {
	if factory == nil {
		panic("quill: nil page factory")
	}
	def := &pageDef{factory: factory}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

func (a *App) bind(def *pageDef, r *route.Route[*pageDef], err error) error {
	if errors.Is(err, route.ErrDuplicate) {
		return fmt.Errorf("%w: %w", ErrDuplicateRoute, err)
	}
	if err != nil {
		return fmt.Errorf("quill: register page: %w", err)
	}
	def.decl, def.kind = r.Decl, r.Kind
	a.log.Debug("registered page",
		zap.String("route", r.Decl),
		zap.Stringer("kind", r.Kind),
		zap.Int("priority", r.Priority),
	)
	return nil
}

// NotFound sets the page shown when navigation matches no route. It
// receives the normalized path as the "path" param. Without one, a miss
// reaches OnError as ErrNotFound and the current page stays.
func (a *App) NotFound(factory func() Page) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if factory == nil {
		a.notFound = nil
		return
	}
	a.notFound = &pageDef{decl: "not-found", kind: route.Static, factory: factory}
}

func (a *App) notFoundPage() *pageDef {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.notFound
}

// GlobalStyle adds CSS sent ahead of every page tree in a style node.
func (a *App) GlobalStyle(css string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.styles = append(a.styles, css)
}

// StyleFiles adds stylesheet files to the global CSS, in order. Each file
// is read once, here, and its contents sent with every render. If any file
// cannot be read none are added.
func (a *App) StyleFiles(paths ...string) error {
	return a.addStyles(os.ReadFile, paths)
}

// StyleFS is like StyleFiles but reads names from fsys, such as an
// embed.FS.
func (a *App) StyleFS(fsys fs.FS, names ...string) error {
	return a.addStyles(func(name string) ([]byte, error) {
		return fs.ReadFile(fsys, name)
	}, names)
}

func (a *App) addStyles(read func(string) ([]byte, error), names []string) error {
	css := make([]string, 0, len(names))
	for _, name := range names {
		data, err := read(name)
		if err != nil {
			return fmt.Errorf("quill: read stylesheet: %w", err)
		}
		css = append(css, string(data))
	}

	a.mu.Lock()
	a.styles = append(a.styles, css...)
	a.mu.Unlock()
	a.log.Debug("registered stylesheets", zap.Strings("files", names))
	return nil
}

func (a *App) globalStyles() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.styles)
}

// RouteInfo describes a registered page route.
type RouteInfo struct {
	Decl     string
	Kind     route.Kind
	Priority int
}

// Routes lists registered routes in resolution scan order.
func (a *App) Routes() []RouteInfo {
	rs := a.routes.Routes()
	out := make([]RouteInfo, len(rs))
	for i, r := range rs {
		out[i] = RouteInfo{Decl: r.Decl, Kind: r.Kind, Priority: r.Priority}
	}
	return out
}

// Sessions returns the live sessions ordered by id.
func (a *App) Sessions() []*Session {
	a.mu.RLock()
	out := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (a *App) handleError(s *Session, err error) error {
	return a.OnError(s, err)
}

// Handler serves the App over HTTP. WebSocket upgrades on any path start a
// session showing that path; other GET requests receive the HTML shell
// that loads the client runtime.
func (a *App) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsWebSocket(r) {
			a.serveWebSocket(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := Render(w, r, a.shell()); err != nil {
			a.log.Error("render shell", zap.Error(err))
		}
	})
}

func (a *App) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		a.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := NewWebSocketConn(ws, WebSocketOptions{
		ReadLimit:    a.cfg.ReadLimit,
		WriteTimeout: a.cfg.WriteTimeout,
	})
	if err := a.ServeConn(r.Context(), conn, r.URL.Path); err != nil {
		a.log.Warn("connection closed with error", zap.Error(err))
	}
}

// ServeConn runs one session over conn until the peer disconnects, ctx is
// done or OnError asks for the connection to be closed. The first frame
// must be the client's public key; the session then shows path.
//
// Key material, state stores and callbacks are released before ServeConn
// returns, and conn is closed.
func (a *App) ServeConn(ctx context.Context, conn Conn, path string) (err error) {
	id := ConnID(uuid.NewString())
	s := newSession(a, id, conn)

	a.mu.Lock()
	a.sessions[id] = s
	a.mu.Unlock()
	a.metrics.connections.Inc()
	s.log.Debug("connection opened", zap.String("path", path))

	defer func() {
		a.crypto.Cleanup(id)
		s.close()
		a.mu.Lock()
		delete(a.sessions, id)
		a.mu.Unlock()
		a.metrics.connections.Dec()
		err = multierr.Append(err, conn.Close())
		s.log.Debug("connection closed", zap.Error(err))
	}()

	if err := a.handshake(ctx, s); err != nil {
		a.metrics.protocolErrors.WithLabelValues("handshake").Inc()
		return err
	}

	ctx, cancel := context.WithCancel(withSession(ctx, s))
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	inbox := make(chan clientMessage)

	g.Go(func() error {
		defer cancel()
		return a.readLoop(gctx, s, inbox)
	})
	g.Go(func() error {
		<-gctx.Done()
		// unblocks Read
		_ = conn.Close()
		return nil
	})
	if p, ok := conn.(Pinger); ok && a.cfg.PingInterval > 0 {
		g.Go(func() error {
			return keepAlive(gctx, p, a.cfg.PingInterval)
		})
	}
	g.Go(func() error {
		return s.run(gctx, inbox)
	})

	s.Navigate(path)
	return g.Wait()
}

// handshake reads the client public key and answers with the server's.
func (a *App) handshake(ctx context.Context, s *Session) error {
	data, err := s.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: read: %w", ErrHandshake, err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	err = a.crypto.HandleKeyExchange(s.id, f, func(reply Frame) error {
		data, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		return s.conn.Write(ctx, data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return nil
}

// readLoop decodes and decrypts client frames into inbox. Malformed and
// undecryptable frames are dropped. It returns nil when the peer closes.
func (a *App) readLoop(ctx context.Context, s *Session, inbox chan<- clientMessage) error {
	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quill: read: %w", err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			a.metrics.protocolErrors.WithLabelValues("json").Inc()
			s.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		var msg clientMessage
		if err := a.crypto.Decrypt(s.id, f, &msg); err != nil {
			err = wrapEnvelopeError(err)
			kind := "format"
			if errors.Is(err, ErrDecryptFailed) {
				kind = "decrypt"
			}
			a.metrics.protocolErrors.WithLabelValues(kind).Inc()
			s.log.Warn("dropping undecryptable frame", zap.Error(err))
			continue
		}

		select {
		case inbox <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func keepAlive(ctx context.Context, p Pinger, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := p.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("quill: ping: %w", err)
			}
		}
	}
}

// ListenAndServe serves the App on addr until ctx is done, then shuts down
// gracefully. Live sessions are cancelled with ctx. When metrics are
// enabled they are served on /metrics.
func (a *App) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	if a.cfg.Metrics {
		mux.Handle("/metrics", a.MetricsHandler())
	}
	mux.Handle("/", a.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          zap.NewStdLog(a.log),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", zap.String("addr", addr), zap.Int("routes", a.routes.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Start serves on host:port until interrupted. Empty host and zero port
// fall back to the configuration.
func (a *App) Start(host string, port int) error {
	if host == "" {
		host = a.cfg.Host
	}
	if port == 0 {
		port = a.cfg.Port
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.ListenAndServe(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}
