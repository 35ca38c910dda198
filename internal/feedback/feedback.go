// Package feedback carries the status reports sent when content reaches
// a lifecycle step, and delivers them off the engine goroutine.
package feedback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"reach-engine/internal/content"
)

const (
	StatusContentDisplayed = "content-displayed"
	StatusContentActioned  = "content-actioned"
	StatusContentExited    = "content-exited"
	StatusDropped          = "dropped"

	// Notification statuses are built with Notification.StatusPrefix.
	NotificationDisplayed = "displayed"
	NotificationActioned  = "actioned"
	NotificationExited    = "exited"
)

// Feedback is one status report for one content item.
type Feedback struct {
	Kind      content.Kind
	ContentID string
	Category  string
	Status    string
	// Extras holds poll answers, question id to choice id.
	Extras   map[string]string
	DeviceID string
	At       time.Time
}

// Sink delivers feedback to the backend.
type Sink interface {
	Send(ctx context.Context, f Feedback) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f Feedback) error

func (fn SinkFunc) Send(ctx context.Context, f Feedback) error { return fn(ctx, f) }

// LogSink writes feedback to a logger. Used when no backend is configured.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Send(_ context.Context, f Feedback) error {
	ev := s.Logger.Info().
		Str("kind", string(f.Kind)).
		Str("content_id", f.ContentID).
		Str("category", f.Category).
		Str("status", f.Status).
		Time("at", f.At)
	if len(f.Extras) > 0 {
		d := zerolog.Dict()
		for k, v := range f.Extras {
			d.Str(k, v)
		}
		ev = ev.Dict("extras", d)
	}
	ev.Msg("feedback")
	return nil
}
