package quill

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// EventData carries the event payload sent with an event_callback message,
// such as an input's value. It is empty for plain callbacks.
type EventData map[string]any

// String returns the named value if it is a string.
func (d EventData) String(name string) string {
	s, _ := d[name].(string)
	return s
}

// Bool returns the named value if it is a bool.
func (d EventData) Bool(name string) bool {
	b, _ := d[name].(bool)
	return b
}

// Handler runs when the client fires an event bound to an element.
//
// Handlers run on the session goroutine; ctx carries the session so state
// stores and navigation helpers work inside them. Returning an error skips
// the re-render and hands the error to App.OnError.
type Handler func(ctx context.Context, data EventData) error

// Func adapts a plain function to a Handler.
func Func(fn func()) Handler {
	return func(context.Context, EventData) error {
		fn()
		return nil
	}
}

// callbackRegistry maps opaque callback ids to handlers for one render pass.
type callbackRegistry map[string]Handler

// register stores h under a fresh id and returns the id.
func (r callbackRegistry) register(h Handler) string {
	id := uuid.NewString()
	r[id] = h
	return id
}

// eventDataFrom normalizes the event_data field of a client message. The
// browser sends a JSON document as a string; codecs that carry maps natively
// deliver a map. Anything unparseable yields empty data.
func eventDataFrom(v any) EventData {
	switch d := v.(type) {
	case map[string]any:
		return EventData(d)
	case string:
		if d == "" {
			return EventData{}
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(d), &m); err != nil || m == nil {
			return EventData{}
		}
		return EventData(m)
	}
	return EventData{}
}
