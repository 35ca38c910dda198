// Package presenter holds what the engine hands out so that clients can
// poll it over HTTP.
package presenter

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reach-engine/internal/content"
	"reach-engine/internal/engine"
)

var (
	_ engine.Presenter        = (*Inbox)(nil)
	_ engine.DataPushReceiver = (*AckReceiver)(nil)
)

// NotificationView is the notification step of a shown item.
type NotificationView struct {
	System    bool   `json:"system"`
	Title     string `json:"title,omitempty"`
	Message   string `json:"message,omitempty"`
	Icon      bool   `json:"icon"`
	Closeable bool   `json:"closeable"`
	Sound     bool   `json:"sound"`
	Vibrate   bool   `json:"vibrate"`
	Image     string `json:"image,omitempty"`
}

type ChoiceView struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Default bool   `json:"default,omitempty"`
}

type QuestionView struct {
	ID      string       `json:"id"`
	Title   string       `json:"title,omitempty"`
	Choices []ChoiceView `json:"choices"`
}

// Shown is one item a client should currently display.
type Shown struct {
	LocalID      uint64            `json:"local_id"`
	ContentID    string            `json:"content_id"`
	Kind         string            `json:"kind"`
	Category     string            `json:"category"`
	Stage        string            `json:"stage"`
	Title        string            `json:"title,omitempty"`
	Body         string            `json:"body,omitempty"`
	Type         string            `json:"type,omitempty"`
	ActionLabel  string            `json:"action_label,omitempty"`
	ExitLabel    string            `json:"exit_label,omitempty"`
	ActionURL    string            `json:"action_url,omitempty"`
	Notification *NotificationView `json:"notification,omitempty"`
	Questions    []QuestionView    `json:"questions,omitempty"`
	NativePush   bool              `json:"native_push,omitempty"`
	ShownAt      time.Time         `json:"shown_at"`
}

// Inbox accepts every item and keeps the latest one per category until
// it is cleared.
type Inbox struct {
	mu     sync.RWMutex
	shown  map[string]shownItem
	logger zerolog.Logger
	now    func() time.Time
}

// shownItem keeps the item itself so the reported stage follows the
// lifecycle after Handle.
type shownItem struct {
	view Shown
	item content.Interactive
}

func NewInbox(logger zerolog.Logger) *Inbox {
	return &Inbox{
		shown:  make(map[string]shownItem),
		logger: logger.With().Str("component", "inbox").Logger(),
		now:    time.Now,
	}
}

func (b *Inbox) Handle(c content.Interactive) bool {
	s := view(c)
	s.ShownAt = b.now()

	b.mu.Lock()
	b.shown[s.Category] = shownItem{view: s, item: c}
	b.mu.Unlock()

	b.logger.Info().Uint64("local_id", s.LocalID).Str("content_id", s.ContentID).Str("category", s.Category).
		Msg("content shown")
	return true
}

func (b *Inbox) Clear(category string) {
	b.mu.Lock()
	delete(b.shown, categoryOf(category))
	b.mu.Unlock()
	b.logger.Debug().Str("category", category).Msg("content cleared")
}

// Current returns the shown items ordered by category, each with its
// current stage.
func (b *Inbox) Current() []Shown {
	b.mu.RLock()
	out := make([]Shown, 0, len(b.shown))
	for _, s := range b.shown {
		v := s.view
		v.Stage = s.item.Stage().String()
		out = append(out, v)
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(a, b Shown) int { return strings.Compare(a.Category, b.Category) })
	return out
}

func categoryOf(category string) string {
	if category == "" {
		return content.DefaultCategory
	}
	return category
}

func view(c content.Interactive) Shown {
	s := Shown{
		LocalID:     c.LocalID(),
		ContentID:   c.ContentID(),
		Kind:        string(c.Kind()),
		Category:    categoryOf(c.Category()),
		Title:       c.Title(),
		Body:        c.Body(),
		ActionLabel: c.ActionLabel(),
		ExitLabel:   c.ExitLabel(),
		NativePush:  c.FromNativePush(),
	}
	if n, ok := c.Notification(); ok {
		s.Notification = &NotificationView{
			System:    n.System,
			Title:     n.Title,
			Message:   n.Message,
			Icon:      n.Icon,
			Closeable: n.Closeable,
			Sound:     n.Sound,
			Vibrate:   n.Vibrate,
			Image:     n.Image,
		}
	}
	switch v := c.(type) {
	case *content.Announcement:
		s.Type = string(v.Type())
		s.ActionURL = v.ActionURL()
	case *content.NotifAnnouncement:
		s.ActionURL = v.ActionURL()
	case *content.Poll:
		for _, q := range v.Questions() {
			qv := QuestionView{ID: q.ID, Title: q.Title}
			for _, ch := range q.Choices {
				qv.Choices = append(qv.Choices, ChoiceView{ID: ch.ID, Title: ch.Title, Default: ch.Default})
			}
			s.Questions = append(s.Questions, qv)
		}
	}
	return s
}

// AckReceiver accepts every data-push whose body decodes and logs it.
type AckReceiver struct {
	logger zerolog.Logger
}

func NewAckReceiver(logger zerolog.Logger) *AckReceiver {
	return &AckReceiver{logger: logger.With().Str("component", "datapush").Logger()}
}

func (r *AckReceiver) Receive(d *content.DataPush) (bool, error) {
	body, err := d.DecodedBody()
	if err != nil {
		return false, err
	}
	r.logger.Info().Str("content_id", d.ContentID()).Str("category", d.Category()).Int("bytes", len(body)).
		Msg("data push received")
	return true, nil
}
