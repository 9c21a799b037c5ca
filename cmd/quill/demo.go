package main

import (
	"context"
	"strconv"

	"github.com/pthm/quill"
	"github.com/pthm/quill/lib/route"
)

var (
	counterState = quill.DefineState("counter",
		countField,
	)
	countField = quill.Field("count", 0)
)

// registerDemo wires the starter pages served by "quill serve".
func registerDemo(app *quill.App) error {
	app.GlobalStyle(`body { font-family: sans-serif; margin: 2rem; }
button { min-width: 2.5rem; }`)

	if err := app.PageFunc("/", homePage); err != nil {
		return err
	}
	if err := app.PageFunc("/hello/{name}", helloPage); err != nil {
		return err
	}
	app.NotFound(func() quill.Page {
		return quill.PageFunc(func(ctx context.Context, p route.Params) (quill.Node, error) {
			return quill.Container(
				quill.El("h1").SetText("Not found"),
				quill.El("p").SetText("Nothing lives at "+p["path"]),
				quill.El("a").Attr("href", "#").SetText("Home").OnClick(func(ctx context.Context, _ quill.EventData) error {
					return quill.Navigate(ctx, "/")
				}),
			), nil
		})
	})
	return nil
}

func homePage(ctx context.Context, _ route.Params) (quill.Node, error) {
	st, err := counterState.Instance(ctx)
	if err != nil {
		return nil, err
	}
	n := countField.From(st)

	return quill.Container(
		quill.El("h1").SetText("Counter"),
		quill.El("p").Attr("id", "count").SetText(strconv.Itoa(n)),
		quill.El("button").SetText("-").OnClick(func(ctx context.Context, _ quill.EventData) error {
			return counterState.Set(ctx, countField.Val(n-1))
		}),
		quill.El("button").SetText("+").OnClick(func(ctx context.Context, _ quill.EventData) error {
			return counterState.Set(ctx, countField.Val(n+1))
		}),
		clicker("clicker"),
		quill.El("a").Attr("href", "#").SetText("Say hello").OnClick(func(ctx context.Context, _ quill.EventData) error {
			return quill.Navigate(ctx, "/hello/world")
		}),
	), nil
}

// clicker keeps a local count in a hook slot. Its key lets it survive
// page renders triggered by the shared counter.
func clicker(key string) *quill.Component {
	return quill.NewComponent(key, func(ctx context.Context, c *quill.Component) (quill.Node, error) {
		clicks, set := quill.UseState(c, 0)
		return quill.El("div").Class("clicker").Append(
			quill.El("button").SetText("local clicks: "+strconv.Itoa(clicks)).OnClick(quill.Func(func() {
				set.Update(func(prev int) int { return prev + 1 })
			})),
		), nil
	})
}

func helloPage(ctx context.Context, p route.Params) (quill.Node, error) {
	return quill.Container(
		quill.El("h1").SetText("Hello, "+p["name"]),
		quill.El("input").Attr("placeholder", "your name").On("change", func(ctx context.Context, d quill.EventData) error {
			if name := d.String("value"); name != "" {
				return quill.Navigate(ctx, "/hello/"+name)
			}
			return nil
		}),
		quill.El("a").Attr("href", "#").SetText("Back").OnClick(func(ctx context.Context, _ quill.EventData) error {
			return quill.Navigate(ctx, "/")
		}),
	), nil
}
