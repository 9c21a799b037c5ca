package quill

import (
	"maps"
	"slices"
)

// Text is a bare text child. It serializes to a plain string.
type Text string

func (Text) node() {}

// Element is a declared DOM node. Elements are plain data; a page builds a
// new tree on every render.
//
//	quill.El("button").
//	    SetText("+1").
//	    Class("btn", "btn-primary").
//	    Style("font_size", "16px").
//	    OnClick(quill.Func(inc))
type Element struct {
	Tag      string
	Text     *string
	Attrs    map[string]string
	Styles   map[string]string
	Classes  []string
	Key      string
	Handlers map[string]Handler
	Children []Node

	container bool
}

func (*Element) node() {}

// El creates an element with the given tag and children.
func El(tag string, children ...Node) *Element {
	return &Element{Tag: tag, Children: children}
}

// Container creates the root container element a page tree is wrapped in.
// Pages that return a Container are not wrapped again.
func Container(children ...Node) *Element {
	return &Element{Tag: "div", Children: children, container: true}
}

// Img creates an image element. Local sources are rewritten to the asset
// server when serialized.
func Img(src string) *Element {
	return El("img").Attr("src", src)
}

// SetText sets the element's text content.
func (e *Element) SetText(s string) *Element {
	e.Text = &s
	return e
}

// Attr sets an attribute.
func (e *Element) Attr(name, value string) *Element {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[name] = value
	return e
}

// Style sets an inline style property. snake_case and camelCase names are
// converted to CSS names when serialized.
func (e *Element) Style(name, value string) *Element {
	if e.Styles == nil {
		e.Styles = make(map[string]string)
	}
	e.Styles[name] = value
	return e
}

// Class adds CSS classes, skipping ones already present.
func (e *Element) Class(names ...string) *Element {
	e.Classes = appendClasses(e.Classes, names...)
	return e
}

// WithKey sets the element key.
func (e *Element) WithKey(key string) *Element {
	e.Key = key
	return e
}

// On binds a handler to a DOM event such as "click" or "input".
func (e *Element) On(event string, h Handler) *Element {
	if e.Handlers == nil {
		e.Handlers = make(map[string]Handler)
	}
	e.Handlers[event] = h
	return e
}

// OnClick binds a click handler.
func (e *Element) OnClick(h Handler) *Element {
	return e.On("click", h)
}

// Append adds children.
func (e *Element) Append(children ...Node) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// decl is the part of a node that a component merges into its rendered root.
type decl struct {
	text     *string
	styles   map[string]string
	classes  []string
	handlers map[string]Handler
}

// mergeInto copies d onto e: classes and styles are unioned, handlers
// replace existing ones for the same event.
func (d *decl) mergeInto(e *Element) {
	e.Class(d.classes...)
	if len(d.styles) > 0 {
		if e.Styles == nil {
			e.Styles = make(map[string]string, len(d.styles))
		}
		maps.Copy(e.Styles, d.styles)
	}
	if len(d.handlers) > 0 {
		if e.Handlers == nil {
			e.Handlers = make(map[string]Handler, len(d.handlers))
		}
		maps.Copy(e.Handlers, d.handlers)
	}
}

// update applies a newer declaration for the same keyed instance: text and
// handlers are replaced, styles and classes are unioned.
func (d *decl) update(next *decl) {
	d.text = next.text
	d.handlers = maps.Clone(next.handlers)
	if len(next.styles) > 0 {
		if d.styles == nil {
			d.styles = make(map[string]string, len(next.styles))
		}
		maps.Copy(d.styles, next.styles)
	}
	d.classes = appendClasses(d.classes, next.classes...)
}

func appendClasses(dst []string, names ...string) []string {
	for _, n := range names {
		if n != "" && !slices.Contains(dst, n) {
			dst = append(dst, n)
		}
	}
	return dst
}
