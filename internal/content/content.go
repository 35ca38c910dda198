// Package content models the push-delivered reach items: announcements,
// notification-only announcements, polls and data-pushes.
//
// Items are built from a markup element with the *FromElement
// constructors (nil when the element cannot be used) or with Parse, which
// also says why. Mutable lifecycle state is kept in atomics so a
// presentation layer can read an item while the engine owns it.
package content

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrUnparseable is returned by Parse for elements that cannot become content.
	ErrUnparseable = errors.New("unparseable content")
	// ErrUnsupported rejects content actions on notification-only announcements.
	ErrUnsupported = errors.New("operation not supported by this content")
	// ErrInvalidAnswer rejects a poll answer naming an unknown question or
	// choice.
	ErrInvalidAnswer = errors.New("invalid poll answer")
)

// DefaultCategory routes items that carry no category.
const DefaultCategory = "default"

// Kind is the root tag name of a content variant.
type Kind string

const (
	KindAnnouncement      Kind = "announcement"
	KindNotifAnnouncement Kind = "notifAnnouncement"
	KindPoll              Kind = "poll"
	KindDataPush          Kind = "datapush"
)

// IsKind reports whether name (without prefix) selects a content variant.
func IsKind(name string) bool {
	switch Kind(name) {
	case KindAnnouncement, KindNotifAnnouncement, KindPoll, KindDataPush:
		return true
	}
	return false
}

// Stage tracks how far an item went. Stages only move forward.
type Stage int32

const (
	StageReceived Stage = iota
	StageNotificationDisplayed
	StageNotificationActioned
	StageContentDisplayed
	StageProcessed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageNotificationDisplayed:
		return "notification-displayed"
	case StageNotificationActioned:
		return "notification-actioned"
	case StageContentDisplayed:
		return "content-displayed"
	case StageProcessed:
		return "processed"
	}
	return "unknown"
}

// Expiry is an absolute deadline. When LocalTZ is set, At carries a wall
// clock reading that is placed in the location current at check time.
type Expiry struct {
	At      time.Time
	LocalTZ bool
}

// Deadline resolves the expiry for loc.
func (x Expiry) Deadline(loc *time.Location) time.Time {
	if !x.LocalTZ || loc == nil {
		return x.At
	}
	u := x.At.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), loc)
}

// Params are substituted into {{name}} tokens of action URLs and bodies.
type Params map[string]string

// Apply replaces every resolvable {{name}} in s. Unknown tokens stay as written.
func (p Params) Apply(s string) string {
	if len(p) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, "{{")
		if i < 0 {
			break
		}
		j := strings.Index(s[i+2:], "}}")
		if j < 0 {
			break
		}
		// an unclosed "{{" does not swallow the token after it
		if k := strings.LastIndex(s[i+2:i+2+j], "{{"); k >= 0 {
			b.WriteString(s[:i+2+k])
			s = s[i+2+k:]
			continue
		}
		token := s[i : i+2+j+2]
		b.WriteString(s[:i])
		if v, ok := p[strings.TrimSpace(s[i+2:i+2+j])]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(token)
		}
		s = s[i+len(token):]
	}
	b.WriteString(s)
	return b.String()
}

// Clone returns an independent copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Content is the capability set shared by every variant. The set of
// implementations is closed to this package.
type Content interface {
	Kind() Kind
	ContentID() string
	LocalID() uint64
	SetLocalID(id uint64)
	Category() string
	Body() string
	SetBody(body string)
	FeedbackRequired() bool
	Expiry() (Expiry, bool)
	IsExpired(now time.Time) bool
	Stage() Stage
	Advance(to Stage) bool
	Processed() bool
	Raw() []byte
	Params() Params

	contentBase() *base
}

type base struct {
	kind     Kind
	id       string
	category string
	feedback bool
	expiry   *Expiry
	raw      []byte
	params   Params

	localID atomic.Uint64
	stage   atomic.Int32

	mu   sync.RWMutex
	body string
}

func (b *base) contentBase() *base { return b }

func (b *base) Kind() Kind { return b.kind }

// ContentID is the server-assigned identifier.
func (b *base) ContentID() string { return b.id }

// LocalID is the cache key, 0 until the item is stored.
func (b *base) LocalID() uint64 { return b.localID.Load() }

func (b *base) SetLocalID(id uint64) { b.localID.Store(id) }

// Category is the routing key; empty means DefaultCategory.
func (b *base) Category() string { return b.category }

func (b *base) Body() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.body
}

func (b *base) SetBody(body string) {
	b.mu.Lock()
	b.body = body
	b.mu.Unlock()
}

func (b *base) FeedbackRequired() bool { return b.feedback }

func (b *base) Expiry() (Expiry, bool) {
	if b.expiry == nil {
		return Expiry{}, false
	}
	return *b.expiry, true
}

// IsExpired compares the deadline with now, resolving a local-timezone
// expiry in now's location.
func (b *base) IsExpired(now time.Time) bool {
	if b.expiry == nil {
		return false
	}
	return !now.Before(b.expiry.Deadline(now.Location()))
}

func (b *base) Stage() Stage { return Stage(b.stage.Load()) }

// Advance moves the item to stage to. It reports false when the item is
// already at or past it.
func (b *base) Advance(to Stage) bool {
	for {
		cur := b.stage.Load()
		if int32(to) <= cur {
			return false
		}
		if b.stage.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

func (b *base) Processed() bool { return b.Stage() == StageProcessed }

// Raw is the source markup of the item, used to rebuild it after a restart.
func (b *base) Raw() []byte { return b.raw }

// Params are the substitution parameters the item was built with.
func (b *base) Params() Params { return b.params }
