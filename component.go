package quill

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// RenderFunc produces a component's subtree. It is called on every render
// pass with the component itself so hooks can be requested from it.
type RenderFunc func(ctx context.Context, c *Component) (Node, error)

// Component is a renderable subtree generator with local state.
//
// Local state lives in hook slots identified by call order: the Nth hook
// requested during a render always reads and writes slot N. A component must
// request the same hooks in the same order on every render; a pass that
// requests a different number of slots, or a slot of a different type,
// fails with ErrHookOrder.
//
//	func Counter(key string) *quill.Component {
//	    return quill.NewComponent(key, func(ctx context.Context, c *quill.Component) (quill.Node, error) {
//	        n, setN := quill.UseState(c, 0)
//	        return quill.El("button").
//	            SetText(strconv.Itoa(n)).
//	            OnClick(quill.Func(func() { setN.Update(func(v int) int { return v + 1 }) })), nil
//	    })
//	}
//
// Components with a key keep their hook slots across renders of their
// parent: the page caches the first instance seen for a key and reconciles
// later declarations into it. Components without a key are rebuilt, with
// fresh state, on every pass.
type Component struct {
	key string

	mu        sync.Mutex
	decl      decl
	render    RenderFunc
	slots     []slot
	index     int
	prevSlots int
	hookErr   error
	rerender  func()
	ctx       context.Context // set only while rendering
}

type slot struct {
	typ   reflect.Type
	value any
}

func (*Component) node() {}

// NewComponent creates a component. An empty key opts out of caching.
func NewComponent(key string, render RenderFunc) *Component {
	return &Component{key: key, render: render, prevSlots: -1}
}

// Key returns the component's identity key.
func (c *Component) Key() string {
	return c.key
}

// Text returns the text declared for the component, if any.
func (c *Component) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decl.text == nil {
		return ""
	}
	return *c.decl.text
}

// SetText declares the component's text. The render function decides how
// to display it.
func (c *Component) SetText(s string) *Component {
	c.mu.Lock()
	c.decl.text = &s
	c.mu.Unlock()
	return c
}

// Class adds classes merged into the rendered root.
func (c *Component) Class(names ...string) *Component {
	c.mu.Lock()
	c.decl.classes = appendClasses(c.decl.classes, names...)
	c.mu.Unlock()
	return c
}

// Style adds an inline style merged into the rendered root.
func (c *Component) Style(name, value string) *Component {
	c.mu.Lock()
	if c.decl.styles == nil {
		c.decl.styles = make(map[string]string)
	}
	c.decl.styles[name] = value
	c.mu.Unlock()
	return c
}

// On binds a handler on the rendered root, replacing the root's own
// handler for the same event.
func (c *Component) On(event string, h Handler) *Component {
	c.mu.Lock()
	if c.decl.handlers == nil {
		c.decl.handlers = make(map[string]Handler)
	}
	c.decl.handlers[event] = h
	c.mu.Unlock()
	return c
}

// OnClick binds a click handler on the rendered root.
func (c *Component) OnClick(h Handler) *Component {
	return c.On("click", h)
}

// Slots returns the number of hook slots the component holds.
func (c *Component) Slots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// adopt reconciles a newer declaration for the same key into c. Hook slots
// are kept; the render function is replaced so new props reach the cached
// instance.
func (c *Component) adopt(next *Component) {
	if next == c {
		return
	}
	next.mu.Lock()
	d, render := next.decl, next.render
	next.mu.Unlock()

	c.mu.Lock()
	c.decl.update(&d)
	if render != nil {
		c.render = render
	}
	c.mu.Unlock()
}

func (c *Component) setRerender(fn func()) {
	c.mu.Lock()
	c.rerender = fn
	c.mu.Unlock()
}

func (c *Component) resetHooks() {
	c.mu.Lock()
	c.index = 0
	c.mu.Unlock()
}

// requestRerender asks the owning session for a render. It never blocks.
func (c *Component) requestRerender() {
	c.mu.Lock()
	fn := c.rerender
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// renderTree runs the render function and merges the component's own
// declaration into the returned root.
func (c *Component) renderTree(ctx context.Context) (*Element, error) {
	c.mu.Lock()
	c.index = 0
	c.hookErr = nil
	c.ctx = ctx
	render := c.render
	c.mu.Unlock()

	var (
		n   Node
		err error
	)
	if render != nil {
		n, err = render(ctx, c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = nil
	if err == nil {
		err = c.hookErr
	}
	if err == nil && c.prevSlots >= 0 && c.index != c.prevSlots {
		err = fmt.Errorf("%w: component %q requested %d hooks, previously %d", ErrHookOrder, c.key, c.index, c.prevSlots)
	}
	if err != nil {
		c.slots = c.slots[:max(c.prevSlots, 0)]
		return nil, err
	}
	c.prevSlots = c.index

	root := asElement(n)
	if c.key != "" {
		root.Key = c.key
	}
	c.decl.mergeInto(root)
	return root, nil
}

// asElement turns any node into an element that can carry merged
// attributes.
func asElement(n Node) *Element {
	switch v := n.(type) {
	case *Element:
		if v != nil {
			return v
		}
	case Text:
		return El("span").SetText(string(v))
	case *Component:
		if v != nil {
			return El("div", v)
		}
	}
	return El("div")
}

// slotLocked returns slot i, creating it with initial when it is new. The
// caller holds c.mu.
func (c *Component) slotLocked(i int, typ reflect.Type, initial func() any) (slot, bool) {
	if i == len(c.slots) {
		c.slots = append(c.slots, slot{typ: typ, value: initial()})
	}
	s := c.slots[i]
	if s.typ != typ {
		if c.hookErr == nil {
			c.hookErr = fmt.Errorf("%w: component %q slot %d holds %v, requested %v", ErrHookOrder, c.key, i, s.typ, typ)
		}
		return s, false
	}
	return s, true
}

// UseState returns the value of the next hook slot and its setter. The slot
// is initialized to initial the first time it is requested.
func UseState[T any](c *Component, initial T) (T, Setter[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index
	c.index++
	s, ok := c.slotLocked(i, reflect.TypeFor[T](), func() any { return initial })
	if !ok {
		return initial, Setter[T]{}
	}
	v, _ := s.value.(T)
	return v, Setter[T]{c: c, i: i}
}

// Setter writes one hook slot. Every call requests a re-render, even when
// the value is unchanged.
type Setter[T any] struct {
	c *Component
	i int
}

// Set assigns v to the slot.
func (s Setter[T]) Set(v T) {
	s.Update(func(T) T { return v })
}

// Update replaces the slot value with fn applied to the previous value. fn
// runs with the component locked and must not request hooks.
func (s Setter[T]) Update(fn func(prev T) T) {
	if s.c == nil {
		return
	}
	s.c.mu.Lock()
	if s.i < len(s.c.slots) {
		prev, _ := s.c.slots[s.i].value.(T)
		s.c.slots[s.i].value = fn(prev)
	}
	s.c.mu.Unlock()
	s.c.requestRerender()
}

var storeType = reflect.TypeFor[*Store]()

// UseStore binds the session's live instance of def into the next hook
// slot and returns it. Changes to the store re-render the session's page.
// Outside a session the pass fails with ErrNoSession.
func UseStore(c *Component, def *StateDef) *Store {
	c.mu.Lock()
	i := c.index
	c.index++
	if i < len(c.slots) {
		defer c.mu.Unlock()
		s, ok := c.slotLocked(i, storeType, nil)
		if !ok {
			return def.New()
		}
		st := s.value.(*Store)
		if st.def != def && c.hookErr == nil {
			c.hookErr = fmt.Errorf("%w: component %q slot %d holds state %q, requested %q", ErrHookOrder, c.key, i, st.def.name, def.name)
		}
		return st
	}
	ctx := c.ctx
	c.mu.Unlock()

	st, err := def.Instance(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.hookErr == nil {
			c.hookErr = err
		}
		st = def.New()
	}
	c.slotLocked(i, storeType, func() any { return st })
	return st
}
