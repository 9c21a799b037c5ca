package quill

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Payload actions, inside the encrypted envelope.
const (
	ActionCallback      = "callback"
	ActionEventCallback = "event_callback"
	ActionNavigate      = "navigate"
	ActionClientError   = "client_error"
	ActionRenderPage    = "render_page"
	ActionRedirect      = "redirect"
)

// StyleNodeID is the id of the stylesheet node sent ahead of the page tree
// when global styles are registered.
const StyleNodeID = "quill-dynamic-styles"

// clientMessage is a decrypted client payload.
type clientMessage struct {
	Action    string `json:"action"`
	ID        string `json:"id,omitempty"`
	Path      string `json:"path,omitempty"`
	EventData any    `json:"event_data,omitempty"`
	Error     string `json:"error,omitempty"`
}

type renderMessage struct {
	Action  string `json:"action"`
	Path    string `json:"path"`
	Content []any  `json:"content"`
}

type redirectMessage struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

// dispatch routes one client message. Handler errors are returned without
// rendering.
func (s *Session) dispatch(ctx context.Context, msg clientMessage) error {
	switch msg.Action {
	case ActionCallback, ActionEventCallback:
		h, ok := s.callbacks[msg.ID]
		if !ok {
			s.app.metrics.callbacks.WithLabelValues("unknown").Inc()
			s.log.Warn("unknown callback id", zap.String("id", msg.ID), zap.String("action", msg.Action))
			return nil
		}
		if err := h(ctx, eventDataFrom(msg.EventData)); err != nil {
			s.app.metrics.callbacks.WithLabelValues("error").Inc()
			return fmt.Errorf("quill: callback %s: %w", msg.ID, err)
		}
		s.app.metrics.callbacks.WithLabelValues("ok").Inc()
		if s.navPending() {
			// the queued navigation renders
			return nil
		}
		return s.render(ctx)

	case ActionNavigate:
		path := msg.Path
		if path == "" {
			path = "/"
		}
		return s.navigate(ctx, path)

	case ActionClientError:
		s.log.Warn("client reported error", zap.String("error", msg.Error))
		return nil

	default:
		s.log.Warn("unknown action", zap.String("action", msg.Action))
		return nil
	}
}
