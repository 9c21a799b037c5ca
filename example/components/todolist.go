package components

import (
	"context"

	"github.com/pthm/quill"
)

// TodoList renders the todos matching the session's filters.
func TodoList(store TodoStore) *quill.Component {
	return quill.NewComponent("todolist", func(ctx context.Context, c *quill.Component) (quill.Node, error) {
		status, tag, err := currentFilters(ctx)
		if err != nil {
			return nil, err
		}

		todos := store.List(status, tag)
		if len(todos) == 0 {
			return quill.El("p").Class("empty").SetText("Nothing to do."), nil
		}
		list := quill.El("ul").Class("todos")
		for _, todo := range todos {
			list.Append(TodoItem(store, todo))
		}
		return list, nil
	})
}
