package content

import (
	"encoding/base64"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// AnnouncementType is the MIME type of an announcement body.
type AnnouncementType string

const (
	TextPlain AnnouncementType = "text/plain"
	TextHTML  AnnouncementType = "text/html"
)

type announcement struct {
	interactive
	actionURL string
}

// ActionURL is opened when the user actions the item. Parameters are
// already substituted.
func (a *announcement) ActionURL() string { return a.actionURL }

// Announcement is a full-screen message with a body.
type Announcement struct {
	announcement
	mimeType AnnouncementType
}

func (a *Announcement) Type() AnnouncementType { return a.mimeType }

// NotifAnnouncement only has a notification step. Actioning the
// notification processes it; it has no content to display.
type NotifAnnouncement struct {
	announcement
}

// Choice is one answer to a poll question.
type Choice struct {
	ID      string
	Title   string
	Default bool
}

// Question is one poll question with its choices.
type Question struct {
	ID      string
	Title   string
	Choices []Choice
}

// DefaultChoice returns the id of the default choice, if any.
func (q Question) DefaultChoice() (string, bool) {
	for _, c := range q.Choices {
		if c.Default {
			return c.ID, true
		}
	}
	return "", false
}

func (q Question) hasChoice(id string) bool {
	return slices.ContainsFunc(q.Choices, func(c Choice) bool { return c.ID == id })
}

// Poll collects one answer per question.
type Poll struct {
	interactive
	questions []Question

	mu      sync.Mutex
	answers map[string]string
}

// Questions returns the questions in document order.
func (p *Poll) Questions() []Question {
	out := make([]Question, len(p.questions))
	for i, q := range p.questions {
		q.Choices = slices.Clone(q.Choices)
		out[i] = q
	}
	return out
}

// FillAnswer records choiceID for questionID, replacing any previous answer.
func (p *Poll) FillAnswer(questionID, choiceID string) error {
	idx := slices.IndexFunc(p.questions, func(q Question) bool { return q.ID == questionID })
	if idx < 0 {
		return fmt.Errorf("%w: poll %s has no question %q", ErrInvalidAnswer, p.id, questionID)
	}
	if !p.questions[idx].hasChoice(choiceID) {
		return fmt.Errorf("%w: poll %s question %q has no choice %q", ErrInvalidAnswer, p.id, questionID, choiceID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answers == nil {
		p.answers = make(map[string]string)
	}
	p.answers[questionID] = choiceID
	return nil
}

// Answers returns the answers filled so far.
func (p *Poll) Answers() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.answers)
}

// Submission returns the answers to send on action: filled answers, then
// the default choice of each unanswered question. Questions with neither
// are left out.
func (p *Poll) Submission() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.questions))
	for _, q := range p.questions {
		if a, ok := p.answers[q.ID]; ok {
			out[q.ID] = a
			continue
		}
		if d, ok := q.DefaultChoice(); ok {
			out[q.ID] = d
		}
	}
	return out
}

// DataPushType is the encoding of a data-push body.
type DataPushType string

const (
	DataText   DataPushType = "text"
	DataBase64 DataPushType = "base64"
)

// DataPush is delivered to the application silently.
type DataPush struct {
	base
	dataType DataPushType
}

func (d *DataPush) Type() DataPushType { return d.dataType }

// DecodedBody returns the payload bytes, decoding base64 bodies.
func (d *DataPush) DecodedBody() ([]byte, error) {
	body := d.Body()
	if d.dataType == DataBase64 {
		return base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	}
	return []byte(body), nil
}
