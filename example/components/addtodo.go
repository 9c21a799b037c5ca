package components

import (
	"context"
	"slices"
	"strings"

	"github.com/pthm/quill"
)

// AddTodo is the new-todo form. Drafts live in hook slots until submitted.
func AddTodo(store TodoStore) *quill.Component {
	return quill.NewComponent("addtodo", func(ctx context.Context, c *quill.Component) (quill.Node, error) {
		title, setTitle := quill.UseState(c, "")
		tags, setTags := quill.UseState(c, []Tag(nil))
		problem, setProblem := quill.UseState(c, "")

		form := quill.El("div").Class("add-todo").Append(
			quill.El("input").Attr("placeholder", "What needs doing?").Attr("value", title).
				On("input", func(ctx context.Context, d quill.EventData) error {
					setTitle.Set(d.String("value"))
					return nil
				}),
		)

		for _, t := range AllTags() {
			box := quill.El("input").Attr("type", "checkbox").Attr("name", string(t))
			if slices.Contains(tags, t) {
				box.Attr("checked", "checked")
			}
			box.On("change", func(ctx context.Context, d quill.EventData) error {
				setTags.Update(func(prev []Tag) []Tag { return toggleTag(prev, t, d.Bool("checked")) })
				return nil
			})
			form.Append(quill.El("label").Append(box, quill.Text(string(t))))
		}

		form.Append(quill.El("button").SetText("Add").OnClick(func(ctx context.Context, _ quill.EventData) error {
			t := strings.TrimSpace(title)
			if t == "" {
				setProblem.Set("Title is required")
				return nil
			}
			store.Add(t, "", tags)
			setTitle.Set("")
			setTags.Set(nil)
			setProblem.Set("")
			return nil
		}))
		if problem != "" {
			form.Append(quill.El("p").Class("flash", "error").SetText(problem))
		}
		return form, nil
	})
}

func toggleTag(tags []Tag, t Tag, on bool) []Tag {
	out := make([]Tag, 0, len(tags)+1)
	for _, x := range tags {
		if x != t {
			out = append(out, x)
		}
	}
	if on {
		out = append(out, t)
	}
	return out
}
