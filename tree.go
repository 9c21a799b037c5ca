package quill

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// TreeNode is the wire form of an element. Children hold TreeNode values and
// plain strings.
type TreeNode struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes"`
	Text       *string           `json:"text"`
	Children   []any             `json:"children"`
	Key        string            `json:"key,omitempty"`
}

// assets describes where local media is served from.
type assets struct {
	url   string // base URL of the asset server
	mount string // path prefix local sources are written with
}

// rewrite maps a local src onto the asset server, dropping the mount
// prefix. Absolute URLs and data URIs are left alone.
func (a assets) rewrite(src string) string {
	if a.url == "" || src == "" {
		return src
	}
	if u, err := url.Parse(src); err != nil || u.Scheme != "" || strings.HasPrefix(src, "//") {
		return src
	}
	rel := src
	if a.mount != "" {
		mount := "/" + strings.Trim(a.mount, "/")
		switch {
		case rel == mount:
			rel = ""
		case strings.HasPrefix(rel, mount+"/"):
			rel = rel[len(mount):]
		}
	}
	rel = strings.TrimPrefix(rel, "/")
	return strings.TrimSuffix(a.url, "/") + "/" + rel
}

// renderPass serializes one page tree. It collects the callbacks the tree
// binds and reconciles keyed components through the page cache.
type renderPass struct {
	ctx       context.Context
	page      *pageInstance
	callbacks callbackRegistry
	assets    assets
	rerender  func()
}

func newRenderPass(ctx context.Context, page *pageInstance, a assets, rerender func()) *renderPass {
	return &renderPass{
		ctx:       ctx,
		page:      page,
		callbacks: make(callbackRegistry),
		assets:    a,
		rerender:  rerender,
	}
}

// node serializes a child.
func (p *renderPass) node(n Node) (any, error) {
	switch v := n.(type) {
	case Text:
		return string(v), nil
	case *Component:
		if v == nil {
			return nil, nil
		}
		return p.component(v)
	case *Element:
		if v == nil {
			return nil, nil
		}
		return p.element(v)
	}
	return nil, nil
}

// component renders c, or the cached instance for its key, and serializes
// the result.
func (p *renderPass) component(c *Component) (TreeNode, error) {
	if c.key != "" && p.page != nil {
		c = p.page.componentFor(c)
	}
	if p.rerender != nil {
		c.setRerender(p.rerender)
	}
	root, err := c.renderTree(p.ctx)
	if err != nil {
		return TreeNode{}, err
	}
	return p.element(root)
}

// element serializes e and its children.
func (p *renderPass) element(e *Element) (TreeNode, error) {
	t := TreeNode{
		Tag:        e.Tag,
		Attributes: make(map[string]string, len(e.Attrs)+len(e.Handlers)+2),
		Text:       e.Text,
		Children:   make([]any, 0, len(e.Children)),
		Key:        e.Key,
	}
	for k, v := range e.Attrs {
		t.Attributes[k] = v
	}

	events := make([]string, 0, len(e.Handlers))
	for ev := range e.Handlers {
		events = append(events, ev)
	}
	sort.Strings(events)
	for _, ev := range events {
		if h := e.Handlers[ev]; h != nil {
			t.Attributes["on"+strings.ToLower(ev)] = p.callbacks.register(h)
		}
	}

	if style := inlineStyle(e.Styles); style != "" {
		if existing := strings.TrimSpace(t.Attributes["style"]); existing != "" {
			style = existing + " " + style
		}
		t.Attributes["style"] = style
	}
	if len(e.Classes) > 0 {
		classes := strings.Fields(t.Attributes["class"])
		classes = appendClasses(classes, e.Classes...)
		t.Attributes["class"] = strings.Join(classes, " ")
	}
	if src, ok := t.Attributes["src"]; ok {
		t.Attributes["src"] = p.assets.rewrite(src)
	}

	for _, child := range e.Children {
		if child == nil {
			continue
		}
		v, err := p.node(child)
		if err != nil {
			return TreeNode{}, err
		}
		if v != nil {
			t.Children = append(t.Children, v)
		}
	}
	return t, nil
}

// inlineStyle renders style properties as "name: value;" pairs in name
// order.
func inlineStyle(styles map[string]string) string {
	if len(styles) == 0 {
		return ""
	}
	names := make([]string, 0, len(styles))
	for k := range styles {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, cssName(k)+": "+styles[k]+";")
	}
	return strings.Join(parts, " ")
}

// cssName converts font_size and fontSize to font-size.
func cssName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_':
			b.WriteByte('-')
		case unicode.IsUpper(r):
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// styleNode builds the stylesheet node sent ahead of the page tree.
func styleNode(css []string) TreeNode {
	text := strings.Join(css, "\n")
	return TreeNode{
		Tag:        "style",
		Attributes: map[string]string{"id": StyleNodeID},
		Text:       &text,
		Children:   []any{},
	}
}
