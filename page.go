package quill

import (
	"strings"

	"github.com/google/uuid"

	"github.com/pthm/quill/lib/route"
)

// pageDef is a registered page: a route bound to a factory.
type pageDef struct {
	decl     string
	kind     route.Kind
	priority int
	factory  func() Page
}

// PageOption configures a page registration.
type PageOption func(*pageDef)

// WithPriority sets the route priority. Higher priorities win when several
// routes match a path. The default is 0.
func WithPriority(n int) PageOption {
	return func(d *pageDef) {
		d.priority = n
	}
}

// pageInstance is the page shown on one session.
type pageInstance struct {
	def       *pageDef
	page      Page
	params    route.Params
	className string
	cache     map[string]*Component
	touched   map[string]struct{}
}

func newPageInstance(def *pageDef, params route.Params) *pageInstance {
	if params == nil {
		params = route.Params{}
	}
	return &pageInstance{
		def:     def,
		page:    def.factory(),
		params:  params,
		cache:   make(map[string]*Component),
		touched: make(map[string]struct{}),
	}
}

// ClassName returns the CSS class tagged onto the page root. It is derived
// from the route and a random suffix, and fixed for the instance lifetime.
func (p *pageInstance) ClassName() string {
	if p.className == "" {
		p.className = pageClassName(p.def.decl, p.def.kind)
	}
	return p.className
}

func pageClassName(decl string, kind route.Kind) string {
	var clean string
	switch {
	case kind == route.Static && strings.Trim(decl, "/") == "":
		clean = "home"
	case kind == route.Static:
		clean = strings.ReplaceAll(strings.Trim(decl, "/"), "/", "-")
	default:
		clean = route.CleanName(decl)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return "quill-page-" + clean + "-" + suffix
}

// beginPass prepares the cache for a new render pass.
func (p *pageInstance) beginPass() {
	clear(p.touched)
	for _, c := range p.cache {
		c.resetHooks()
	}
}

// componentFor returns the cached instance for decl's key, creating the
// entry on first sight, and marks the key as touched.
func (p *pageInstance) componentFor(decl *Component) *Component {
	c, ok := p.cache[decl.key]
	if !ok {
		p.cache[decl.key] = decl
		c = decl
	} else {
		c.adopt(decl)
	}
	p.touched[decl.key] = struct{}{}
	return c
}

// evict drops cached components whose key was not seen in the last pass.
func (p *pageInstance) evict() int {
	n := 0
	for key, c := range p.cache {
		if _, ok := p.touched[key]; !ok {
			c.setRerender(nil)
			delete(p.cache, key)
			n++
		}
	}
	return n
}

// release detaches every cached component.
func (p *pageInstance) release() {
	for key, c := range p.cache {
		c.setRerender(nil)
		delete(p.cache, key)
	}
	clear(p.touched)
}
