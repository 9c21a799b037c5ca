package quill

import (
	"context"

	"github.com/pthm/quill/lib/route"
)

// Page is implemented by routed, renderable units.
//
// A fresh Page is created by its factory whenever navigation resolves to a
// different route definition than the one currently shown. Navigating
// within the same definition keeps the instance (and the keyed components
// it has cached) and only refreshes params, so a Page may keep state in
// its own fields across renders:
//
//	type UserPage struct{ visits int }
//
//	func (p *UserPage) Render(ctx context.Context, params route.Params) (quill.Node, error) {
//	    p.visits++
//	    return quill.El("h1").SetText("user " + params["id"]), nil
//	}
//
// Render runs on the session goroutine. It must build a brand-new tree on
// every call; keyed components are reconciled against the page cache.
type Page interface {
	Render(ctx context.Context, params route.Params) (Node, error)
}

// PageFunc adapts a function to the Page interface.
type PageFunc func(ctx context.Context, params route.Params) (Node, error)

// Render calls f.
func (f PageFunc) Render(ctx context.Context, params route.Params) (Node, error) {
	return f(ctx, params)
}

// Node is anything that can appear in a render tree: *Element,
// *Component or Text.
type Node interface {
	node()
}

// Conn is a message-oriented, bidirectional connection carrying one
// session. Each call to Read returns one complete message.
//
// Read is only called from one goroutine at a time and Write from one
// goroutine at a time; Close may be called concurrently with both and must
// unblock them. Implementations should return io.EOF from Read once the
// peer has closed the connection normally.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}
