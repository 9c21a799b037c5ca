// Package quillecho mounts a quill application on an Echo server.
//
//	e := echo.New()
//	app := quill.New()
//	app.MustPage("/", home)
//	quillecho.Mount(e, app)
//
// Or mount on a group so the UI shares the group's middleware:
//
//	g := e.Group("/app", authMiddleware)
//	quillecho.MountGroup(g, app, quillecho.WithStripPrefix("/app"))
package quillecho

import (
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/pthm/quill"
)

// Option configures Mount and MountGroup.
type Option func(*options)

type options struct {
	strip   string
	metrics string
}

// WithStripPrefix removes prefix from request paths before they reach the
// application, so route declarations stay relative to the mount point.
func WithStripPrefix(prefix string) Option {
	return func(o *options) {
		o.strip = strings.TrimSuffix(prefix, "/")
	}
}

// WithMetrics serves the application's Prometheus metrics at path.
func WithMetrics(path string) Option {
	return func(o *options) {
		o.metrics = path
	}
}

// Mount serves app for every path on e that no other route claims.
func Mount(e *echo.Echo, app *quill.App, opts ...Option) {
	o := newOptions(opts)
	if o.metrics != "" {
		e.GET(o.metrics, echo.WrapHandler(app.MetricsHandler()))
	}
	e.Any("/*", echo.WrapHandler(o.wrap(app.Handler())))
}

// MountGroup serves app under g. Pair it with WithStripPrefix when pages
// are declared relative to the group.
func MountGroup(g *echo.Group, app *quill.App, opts ...Option) {
	o := newOptions(opts)
	if o.metrics != "" {
		g.GET(o.metrics, echo.WrapHandler(app.MetricsHandler()))
	}
	h := echo.WrapHandler(o.wrap(app.Handler()))
	g.Any("", h)
	g.Any("/*", h)
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) wrap(h http.Handler) http.Handler {
	if o.strip == "" {
		return h
	}
	return http.StripPrefix(o.strip, h)
}

// Render writes a templ component to the Echo response.
//
//	func handler(c echo.Context) error {
//	    return quillecho.Render(c, myTemplate())
//	}
func Render(c echo.Context, component templ.Component) error {
	return quill.Render(c.Response(), c.Request(), component)
}
