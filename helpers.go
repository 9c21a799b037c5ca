package quill

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"
)

// Render writes a templ component to the HTTP response.
//
// Sets Content-Type to text/html and renders the component using the
// request's context. Useful for pages served next to an App:
//
//	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
//	    quill.Render(w, r, aboutPage())
//	})
func Render(w http.ResponseWriter, r *http.Request, component templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(r.Context(), w)
}

// IsWebSocket returns true if the request asks for a WebSocket upgrade.
func IsWebSocket(r *http.Request) bool {
	return headerHasToken(r.Header, "Connection", "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

// IsExternalURL reports whether s is an absolute http(s) URL. Navigation
// to such a URL becomes a client redirect.
func IsExternalURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Navigate queues navigation of the session carried by ctx. It is the
// usual way for a callback to change page:
//
//	quill.El("button").SetText("Profile").OnClick(func(ctx context.Context, _ quill.EventData) error {
//	    return quill.Navigate(ctx, "/profile")
//	})
//
// Returns ErrNoSession when ctx carries none.
func Navigate(ctx context.Context, path string) error {
	s, ok := SessionFrom(ctx)
	if !ok {
		return ErrNoSession
	}
	s.Navigate(path)
	return nil
}

// Redirect sends the client to an external URL. Non-absolute URLs are
// treated as in-app paths.
func Redirect(ctx context.Context, rawURL string) error {
	return Navigate(ctx, rawURL)
}

// RequestRender queues a render of the session carried by ctx.
func RequestRender(ctx context.Context) error {
	s, ok := SessionFrom(ctx)
	if !ok {
		return ErrNoSession
	}
	s.RequestRender()
	return nil
}

// CurrentPath returns the path shown by the session carried by ctx, or ""
// without one.
func CurrentPath(ctx context.Context) string {
	if s, ok := SessionFrom(ctx); ok {
		return s.Path()
	}
	return ""
}
