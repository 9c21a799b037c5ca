package quill

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pthm/quill/lib/route"
)

type sessionKey struct{}

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session carried by ctx. Handlers, page renders
// and component renders all receive a ctx carrying their session.
func SessionFrom(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// Session is the server side of one client connection. It owns the current
// page, the callback registry of the last render and the connection's state
// stores.
//
// All page work for a session runs on a single goroutine: inbound messages,
// navigation and renders are processed one at a time, in order. Other
// goroutines interact with a session only through RequestRender and
// Navigate, which queue work and never block. Redundant render requests
// are coalesced.
type Session struct {
	id   ConnID
	app  *App
	conn Conn
	log  *zap.Logger

	// owned by the session goroutine
	page      *pageInstance
	callbacks callbackRegistry

	storesMu sync.Mutex
	stores   map[*StateDef]*Store

	mu         sync.Mutex
	path       string
	needRender bool
	navTo      string
	hasNav     bool
	closed     bool
	wake       chan struct{}
}

func newSession(app *App, id ConnID, conn Conn) *Session {
	return &Session{
		id:        id,
		app:       app,
		conn:      conn,
		log:       app.log.With(zap.String("conn", string(id))),
		callbacks: make(callbackRegistry),
		stores:    make(map[*StateDef]*Store),
		wake:      make(chan struct{}, 1),
	}
}

// ID returns the connection id.
func (s *Session) ID() ConnID {
	return s.id
}

// Path returns the path of the page currently shown.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Logger returns the session logger. Every line carries the connection id.
func (s *Session) Logger() *zap.Logger {
	return s.log
}

// RequestRender queues a render of the current page. It is safe to call
// from any goroutine and never blocks.
func (s *Session) RequestRender() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.needRender = true
	s.mu.Unlock()
	s.poke()
}

// Navigate queues navigation to path, or a client redirect when path is an
// absolute external URL. Only the latest queued navigation runs.
func (s *Session) Navigate(path string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.navTo, s.hasNav = path, true
	s.mu.Unlock()
	s.poke()
}

// Close closes the connection, ending the session.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) navPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasNav
}

func (s *Session) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// store returns the session's live instance of def.
func (s *Session) store(def *StateDef) (*Store, error) {
	s.storesMu.Lock()
	defer s.storesMu.Unlock()
	if s.stores == nil {
		return nil, fmt.Errorf("%w: state %q", ErrSessionClosed, def.name)
	}
	st, ok := s.stores[def]
	if !ok {
		st = def.New()
		st.OnChange(s.RequestRender)
		s.stores[def] = st
	}
	return st, nil
}

// run is the session goroutine. It returns when ctx is done or when
// App.OnError asks for the connection to be torn down.
func (s *Session) run(ctx context.Context, inbox <-chan clientMessage) error {
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case msg := <-inbox:
			err = s.guard(func() error { return s.dispatch(ctx, msg) })
		case <-s.wake:
			err = s.guard(func() error { return s.flush(ctx) })
		}
		if err != nil {
			if err := s.app.handleError(s, err); err != nil {
				return err
			}
		}
	}
}

// guard runs fn, turning a panic in page, component or handler code into
// an ErrPanic error so it stays scoped to this session.
func (s *Session) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.app.metrics.panics.Inc()
			s.log.Error("recovered panic", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// flush runs queued navigation or render work.
func (s *Session) flush(ctx context.Context) error {
	s.mu.Lock()
	nav, hasNav, needRender := s.navTo, s.hasNav, s.needRender
	s.navTo, s.hasNav = "", false
	s.mu.Unlock()

	switch {
	case hasNav:
		return s.navigate(ctx, nav)
	case needRender:
		return s.render(ctx)
	}
	return nil
}

// navigate shows the page for path. An absolute external URL is sent to the
// client as a redirect. A miss shows the NotFound page when one is
// registered and otherwise fails with ErrNotFound, keeping the current
// page. A new page instance is created only when path resolves to a
// different page than the current one; otherwise the params are refreshed
// and the component cache kept.
func (s *Session) navigate(ctx context.Context, path string) error {
	if IsExternalURL(path) {
		s.log.Debug("redirecting client", zap.String("url", path))
		return s.send(ctx, redirectMessage{Action: ActionRedirect, URL: path})
	}

	m, ok := s.app.routes.Resolve(path)
	if !ok {
		s.app.metrics.routeMisses.Inc()
		nf := s.app.notFoundPage()
		if nf == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		s.log.Info("no route for path, showing not found page", zap.String("path", path))
		m.Target = nf
		m.Params = route.Params{"path": route.Normalize(path)}
	}

	if s.page == nil || s.page.def != m.Target {
		if s.page != nil {
			s.page.release()
		}
		s.page = newPageInstance(m.Target, m.Params)
	} else {
		s.page.params = m.Params
	}

	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	return s.render(ctx)
}

// render rebuilds the current page and sends it. It is a no-op without a
// page or once the session has closed.
func (s *Session) render(ctx context.Context) error {
	s.mu.Lock()
	s.needRender = false
	closed, path := s.closed, s.path
	s.mu.Unlock()
	if closed || s.page == nil || s.conn == nil {
		return nil
	}

	start := time.Now()
	page := s.page
	page.beginPass()

	n, err := page.page.Render(ctx, maps.Clone(page.params))
	if err != nil {
		s.app.metrics.renders.WithLabelValues("error").Inc()
		return fmt.Errorf("quill: render %s: %w", path, err)
	}
	root := asRoot(n)
	root.Class(page.ClassName())

	pass := newRenderPass(ctx, page, s.app.assets, s.RequestRender)
	tree, err := pass.element(root)
	if err != nil {
		s.app.metrics.renders.WithLabelValues("error").Inc()
		return fmt.Errorf("quill: render %s: %w", path, err)
	}
	evicted := page.evict()
	s.callbacks = pass.callbacks

	content := make([]any, 0, 2)
	if css := s.app.globalStyles(); len(css) > 0 {
		content = append(content, styleNode(css))
	}
	content = append(content, tree)

	if err := s.send(ctx, renderMessage{Action: ActionRenderPage, Path: path, Content: content}); err != nil {
		s.app.metrics.renders.WithLabelValues("error").Inc()
		return err
	}

	elapsed := time.Since(start)
	s.app.metrics.renders.WithLabelValues("ok").Inc()
	s.app.metrics.renderDuration.Observe(elapsed.Seconds())
	s.log.Debug("rendered page",
		zap.String("path", path),
		zap.Int("callbacks", len(pass.callbacks)),
		zap.Int("cached", len(page.cache)),
		zap.Int("evicted", evicted),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// asRoot wraps n in a root container unless it already is one.
func asRoot(n Node) *Element {
	if e, ok := n.(*Element); ok && e != nil && e.container {
		return e
	}
	return Container(n)
}

// send encrypts payload and writes it. A missing key is fatal for the
// payload; nothing is ever sent in the clear.
func (s *Session) send(ctx context.Context, payload any) error {
	f, err := s.app.crypto.Encrypt(s.id, payload)
	if err != nil {
		return fmt.Errorf("quill: encrypt %T: %w", payload, err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, data)
}

// close drops everything the session holds. It is idempotent.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.needRender, s.hasNav = false, false
	s.mu.Unlock()

	s.storesMu.Lock()
	for _, st := range s.stores {
		st.OnChange(nil)
	}
	s.stores = nil
	s.storesMu.Unlock()

	if s.page != nil {
		s.page.release()
		s.page = nil
	}
	s.callbacks = nil
}
