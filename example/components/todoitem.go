package components

import (
	"context"
	"errors"

	"github.com/pthm/quill"
)

var errGone = errors.New("todo no longer exists")

// TodoItem renders one row. It is keyed by the todo ID so its edit mode
// survives list re-renders.
func TodoItem(store TodoStore, todo *Todo) *quill.Component {
	return quill.NewComponent("todo-"+todo.ID, func(ctx context.Context, c *quill.Component) (quill.Node, error) {
		editing, setEditing := quill.UseState(c, false)
		draft, setDraft := quill.UseState(c, "")

		row := quill.El("li").Class("todo")
		if todo.IsCompleted() {
			row.Class("completed")
		}

		if editing {
			return row.Append(
				quill.El("input").Attr("value", draft).On("input", func(ctx context.Context, d quill.EventData) error {
					setDraft.Set(d.String("value"))
					return nil
				}),
				quill.El("button").SetText("Save").OnClick(func(ctx context.Context, _ quill.EventData) error {
					if !store.Update(todo.ID, draft, "") {
						return errGone
					}
					setEditing.Set(false)
					return nil
				}),
				quill.El("button").SetText("Cancel").OnClick(quill.Func(func() { setEditing.Set(false) })),
			), nil
		}

		box := quill.El("input").Attr("type", "checkbox").On("change", func(ctx context.Context, _ quill.EventData) error {
			if !store.Toggle(todo.ID) {
				return errGone
			}
			return nil
		})
		if todo.IsCompleted() {
			box.Attr("checked", "checked")
		}

		row.Append(
			box,
			quill.El("a").Attr("href", "/task/"+todo.ID).SetText(todo.Title).OnClick(func(ctx context.Context, _ quill.EventData) error {
				return quill.Navigate(ctx, "/task/"+todo.ID)
			}),
		)
		for _, t := range todo.Tags {
			row.Append(quill.El("span").Class("tag", "tag-"+string(t)).SetText(string(t)))
		}
		return row.Append(
			quill.El("button").SetText("Edit").OnClick(quill.Func(func() {
				setDraft.Set(todo.Title)
				setEditing.Set(true)
			})),
			quill.El("button").Class("delete").SetText("Delete").OnClick(func(ctx context.Context, _ quill.EventData) error {
				if !store.Delete(todo.ID) {
					return errGone
				}
				return nil
			}),
		), nil
	})
}
