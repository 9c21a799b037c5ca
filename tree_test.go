package quill

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quill/lib/route"
)

func TestElementSerialization(t *testing.T) {
	pass := newRenderPass(context.Background(), nil, assets{}, nil)

	tree, err := pass.element(
		El("div",
			El("h1").SetText("Title"),
			Text("plain"),
			nil,
			(*Element)(nil),
			(*Component)(nil),
		).Attr("id", "main").Class("a", "b", "a").WithKey("k"),
	)
	require.NoError(t, err)

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	var got any
	require.NoError(t, json.Unmarshal(data, &got))

	want := map[string]any{
		"tag":        "div",
		"attributes": map[string]any{"id": "main", "class": "a b"},
		"text":       nil,
		"key":        "k",
		"children": []any{
			map[string]any{
				"tag":        "h1",
				"attributes": map[string]any{},
				"text":       "Title",
				"children":   []any{},
			},
			"plain",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("serialized tree mismatch (-want +got):\n%s", diff)
	}
}

func TestElementHandlersRegistered(t *testing.T) {
	pass := newRenderPass(context.Background(), nil, assets{}, nil)
	noop := Func(func() {})

	tree, err := pass.element(El("input").On("input", noop).On("Change", noop).OnClick(noop))
	require.NoError(t, err)

	assert.Len(t, pass.callbacks, 3)
	for _, attr := range []string{"oninput", "onchange", "onclick"} {
		id := tree.Attributes[attr]
		require.NotEmpty(t, id, attr)
		assert.Contains(t, pass.callbacks, id)
	}
	assert.NotEqual(t, tree.Attributes["oninput"], tree.Attributes["onclick"])
}

func TestElementStylesAndClasses(t *testing.T) {
	pass := newRenderPass(context.Background(), nil, assets{}, nil)

	tree, err := pass.element(
		El("p").
			Attr("style", "display: block;").
			Attr("class", "base extra").
			Style("font_size", "12px").
			Style("backgroundColor", "red").
			Class("extra", "more"),
	)
	require.NoError(t, err)

	assert.Equal(t, "display: block; background-color: red; font-size: 12px;", tree.Attributes["style"])
	assert.Equal(t, "base extra more", tree.Attributes["class"])
}

func TestCSSName(t *testing.T) {
	tests := map[string]string{
		"color":            "color",
		"font_size":        "font-size",
		"fontSize":         "font-size",
		"borderTopWidth":   "border-top-width",
		"margin-left":      "margin-left",
		"Webkit_something": "webkit-something",
	}
	for in, want := range tests {
		assert.Equal(t, want, cssName(in), in)
	}
}

func TestAssetRewrite(t *testing.T) {
	a := assets{url: "https://cdn.example.com/static/", mount: "/assets"}
	tests := []struct {
		src  string
		want string
	}{
		{"/assets/logo.png", "https://cdn.example.com/static/logo.png"},
		{"/assets/img/a.png", "https://cdn.example.com/static/img/a.png"},
		{"/other/logo.png", "https://cdn.example.com/static/other/logo.png"},
		{"logo.png", "https://cdn.example.com/static/logo.png"},
		{"https://elsewhere.org/x.png", "https://elsewhere.org/x.png"},
		{"//elsewhere.org/x.png", "//elsewhere.org/x.png"},
		{"data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.rewrite(tt.src), tt.src)
	}

	assert.Equal(t, "/assets/logo.png", assets{}.rewrite("/assets/logo.png"), "no asset server configured")

	pass := newRenderPass(context.Background(), nil, a, nil)
	tree, err := pass.element(Img("/assets/logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/static/logo.png", tree.Attributes["src"])
}

func TestStyleNode(t *testing.T) {
	n := styleNode([]string{"body { margin: 0; }", "h1 { color: red; }"})
	assert.Equal(t, "style", n.Tag)
	assert.Equal(t, StyleNodeID, n.Attributes["id"])
	require.NotNil(t, n.Text)
	assert.Equal(t, "body { margin: 0; }\nh1 { color: red; }", *n.Text)
}

func testPageInstance(t *testing.T, render PageFunc) *pageInstance {
	t.Helper()
	def := &pageDef{decl: "/items", kind: route.Static, factory: func() Page { return render }}
	return newPageInstance(def, nil)
}

func TestKeyedComponentsReconciled(t *testing.T) {
	ctx := context.Background()
	setters := map[string]Setter[int]{}
	item := func(key string) *Component {
		return NewComponent(key, func(ctx context.Context, c *Component) (Node, error) {
			v, set := UseState(c, 0)
			setters[key] = set
			return El("li").SetText(strconv.Itoa(v)), nil
		})
	}
	keys := []string{"item-1", "item-2"}
	page := testPageInstance(t, func(ctx context.Context, _ route.Params) (Node, error) {
		ul := El("ul")
		for _, k := range keys {
			ul.Append(item(k))
		}
		return ul, nil
	})

	renderPage := func() TreeNode {
		page.beginPass()
		n, err := page.page.Render(ctx, page.params)
		require.NoError(t, err)
		pass := newRenderPass(ctx, page, assets{}, nil)
		tree, err := pass.element(n.(*Element))
		require.NoError(t, err)
		page.evict()
		return tree
	}

	renderPage()
	setters["item-1"].Set(1)

	tree := renderPage()
	first := tree.Children[0].(TreeNode)
	assert.Equal(t, "item-1", first.Key)
	assert.Equal(t, "1", *first.Text, "keyed state survives the parent render")
	assert.Len(t, page.cache, 2)

	keys = []string{"item-2"}
	renderPage()
	assert.Len(t, page.cache, 1, "untouched keys are evicted")
	assert.NotContains(t, page.cache, "item-1")

	keys = []string{"item-1", "item-2"}
	tree = renderPage()
	first = tree.Children[0].(TreeNode)
	assert.Equal(t, "0", *first.Text, "evicted component starts fresh")
}

func TestUnkeyedComponentsAreFresh(t *testing.T) {
	ctx := context.Background()
	var set Setter[int]
	page := testPageInstance(t, func(ctx context.Context, _ route.Params) (Node, error) {
		return counter("", &set), nil
	})

	render := func() string {
		page.beginPass()
		n, err := page.page.Render(ctx, nil)
		require.NoError(t, err)
		pass := newRenderPass(ctx, page, assets{}, nil)
		tree, err := pass.node(n)
		require.NoError(t, err)
		return *tree.(TreeNode).Text
	}

	assert.Equal(t, "0", render())
	set.Set(5)
	assert.Equal(t, "0", render())
	assert.Empty(t, page.cache)
}

func TestPageClassName(t *testing.T) {
	tests := []struct {
		decl   string
		kind   route.Kind
		prefix string
	}{
		{"/", route.Static, "quill-page-home-"},
		{"/users/list", route.Static, "quill-page-users-list-"},
		{"/users/{id}", route.Dynamic, "quill-page-users-id-"},
		{"/docs/*", route.CatchAll, "quill-page-docs-"},
	}
	for _, tt := range tests {
		name := pageClassName(tt.decl, tt.kind)
		assert.Regexp(t, "^"+tt.prefix+"[0-9a-f]{6}$", name, tt.decl)
	}

	page := testPageInstance(t, nil)
	assert.Equal(t, page.ClassName(), page.ClassName(), "class name is fixed per instance")
}
