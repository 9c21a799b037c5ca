package components

import (
	"context"

	"github.com/pthm/quill"
)

// Filter fields hold "" when the filter is off.
var (
	FilterStatus = quill.Field("status", "")
	FilterTag    = quill.Field("tag", "")
	Filters      = quill.DefineState("filters", FilterStatus, FilterTag)
)

// currentFilters reads the session's filters as store arguments.
func currentFilters(ctx context.Context) (*Status, *Tag, error) {
	st, err := Filters.Instance(ctx)
	if err != nil {
		return nil, nil, err
	}
	var (
		status *Status
		tag    *Tag
	)
	if v := FilterStatus.From(st); v != "" {
		s := Status(v)
		status = &s
	}
	if v := FilterTag.From(st); v != "" {
		t := Tag(v)
		tag = &t
	}
	return status, tag, nil
}
