package components

import (
	"context"
	"fmt"

	"github.com/pthm/quill"
)

// Sidebar renders the status and tag filters with per-filter counts.
func Sidebar(store TodoStore) *quill.Component {
	return quill.NewComponent("sidebar", func(ctx context.Context, c *quill.Component) (quill.Node, error) {
		st, err := Filters.Instance(ctx)
		if err != nil {
			return nil, err
		}
		status, tag := FilterStatus.From(st), FilterTag.From(st)
		stats := store.Stats()

		statuses := quill.El("ul").Class("statuses")
		for _, opt := range []struct {
			value, label string
			count        int
		}{
			{"", "All", stats.Total},
			{string(StatusPending), "Pending", stats.Pending},
			{string(StatusCompleted), "Completed", stats.Completed},
		} {
			statuses.Append(filterLink(opt.label, opt.count, status == opt.value, func(ctx context.Context, _ quill.EventData) error {
				return Filters.Set(ctx, FilterStatus.Val(opt.value))
			}))
		}

		tags := quill.El("ul").Class("tags")
		for _, t := range AllTags() {
			value := string(t)
			if tag == value {
				value = ""
			}
			tags.Append(filterLink("#"+string(t), stats.ByTag[t], tag == string(t), func(ctx context.Context, _ quill.EventData) error {
				return Filters.Set(ctx, FilterTag.Val(value))
			}))
		}

		reset := quill.El("button").SetText("Clear filters").OnClick(func(ctx context.Context, _ quill.EventData) error {
			return Filters.Set(ctx, FilterStatus.Val(""), FilterTag.Val(""))
		})

		return quill.El("aside").Class("sidebar").Append(statuses, tags, reset), nil
	})
}

func filterLink(label string, count int, active bool, h quill.Handler) *quill.Element {
	li := quill.El("li").SetText(fmt.Sprintf("%s (%d)", label, count)).OnClick(h)
	if active {
		li.Class("active")
	}
	return li
}
