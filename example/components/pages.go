package components

import (
	"context"
	"fmt"

	"github.com/pthm/quill"
	"github.com/pthm/quill/lib/route"
)

const styles = `
.layout { display: grid; grid-template-columns: 14rem 1fr; gap: 2rem; }
.sidebar li { cursor: pointer; }
.sidebar li.active { font-weight: bold; }
.todo.completed a { text-decoration: line-through; }
.tag { font-size: .75rem; margin-left: .25rem; }
.flash.error { color: #b00; }
`

// Register adds the todo pages to app.
func Register(app *quill.App, store TodoStore) error {
	app.GlobalStyle(styles)

	if err := app.PageFunc("/", func(ctx context.Context, _ route.Params) (quill.Node, error) {
		return quill.El("div").Class("layout").Append(
			Sidebar(store),
			quill.El("main").Append(
				quill.El("h1").SetText("Todos"),
				AddTodo(store),
				TodoList(store),
			),
		), nil
	}); err != nil {
		return err
	}

	if err := app.Page("/task/{id}", func() quill.Page { return &taskPage{store: store} }); err != nil {
		return err
	}

	app.NotFound(func() quill.Page {
		return quill.PageFunc(func(ctx context.Context, p route.Params) (quill.Node, error) {
			return quill.Container(
				quill.El("h1").SetText("Not found"),
				quill.El("p").SetText(fmt.Sprintf("No page at %s.", p["path"])),
				backLink(),
			), nil
		})
	})
	return nil
}

// taskPage shows one todo. The instance is kept while navigating between
// tasks, so visits counts detail views in this session.
type taskPage struct {
	store  TodoStore
	visits int
}

func (p *taskPage) Render(ctx context.Context, params route.Params) (quill.Node, error) {
	p.visits++
	todo := p.store.Get(params["id"])
	if todo == nil {
		return quill.Container(
			quill.El("h1").SetText("Task not found"),
			backLink(),
		), nil
	}

	tags := quill.El("p").Class("tags")
	for _, t := range todo.Tags {
		tags.Append(quill.El("span").Class("tag").SetText(string(t)))
	}
	return quill.Container(
		quill.El("h1").SetText(todo.Title),
		quill.El("p").SetText(todo.Description),
		tags,
		quill.El("p").Class("status").SetText(string(todo.Status)),
		quill.El("small").SetText(fmt.Sprintf("updated %s, viewed %d times", todo.UpdatedAt.Format("Jan 2 15:04"), p.visits)),
		backLink(),
	), nil
}

func backLink() *quill.Element {
	return quill.El("a").Attr("href", "/").SetText("Back to list").OnClick(func(ctx context.Context, _ quill.EventData) error {
		return quill.Navigate(ctx, "/")
	})
}
