package engine

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"reach-engine/internal/cache"
	"reach-engine/internal/content"
	"reach-engine/internal/feedback"
)

// ErrInvalidTransition is returned for lifecycle calls on unknown,
// already processed or wrongly staged content. The engine state is left
// untouched.
var ErrInvalidTransition = errors.New("invalid content transition")

// State of the selection machine.
type State int

const (
	Idle State = iota
	Scanning
	Presenting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Presenting:
		return "presenting"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Presenter shows interactive content for a category.
type Presenter interface {
	// Handle is offered the selected item. Returning false postpones it.
	Handle(c content.Interactive) bool
	// Clear dismisses whatever the presenter shows for category.
	Clear(category string)
}

// DataPushReceiver consumes data-pushes for a category. accepted=true
// reports content-actioned, false content-exited, an error drops it.
type DataPushReceiver interface {
	Receive(d *content.DataPush) (accepted bool, err error)
}

// FeedbackSubmitter queues feedback without blocking.
type FeedbackSubmitter interface {
	Submit(f feedback.Feedback) bool
}

// Options configure an Engine.
type Options struct {
	// MaxCampaigns caps displayed interactive content. 0 disables
	// interactive content, negative means no cap.
	MaxCampaigns int
	DeviceID     string
	// Params are substituted into content on top of deviceid.
	Params content.Params

	CacheName     string
	CacheVersion  int
	CacheCapacity int
	Persisted     bool
	Persister     cache.Persister

	Feedback FeedbackSubmitter
	Logger   zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Item describes one cached content item.
type Item struct {
	LocalID   uint64     `json:"local_id"`
	ContentID string     `json:"content_id"`
	Kind      string     `json:"kind"`
	Category  string     `json:"category,omitempty"`
	Stage     string     `json:"stage"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Status is an immutable view of the engine published after every
// operation.
type Status struct {
	State      State  `json:"state"`
	Activity   string `json:"activity,omitempty"`
	Presenting *Item  `json:"presenting,omitempty"`
	Items      []Item `json:"items"`
}

// IngestResult lists what a payload produced.
type IngestResult struct {
	Stored  []uint64 `json:"stored"`
	Skipped int      `json:"skipped"`
}
