package content

import (
	"encoding/base64"
	"slices"
	"sync/atomic"
)

// BehaviorKind says when an interactive item may be presented.
type BehaviorKind int

const (
	AnyTime BehaviorKind = iota
	// Background requires that no activity is in the foreground.
	Background
	// Session requires any foreground activity.
	Session
	// Activity requires one of a named set of activities.
	Activity
)

func (k BehaviorKind) String() string {
	switch k {
	case AnyTime:
		return "anytime"
	case Background:
		return "background"
	case Session:
		return "session"
	case Activity:
		return "activity"
	}
	return "unknown"
}

// Behavior is the presentation policy of an interactive item.
type Behavior struct {
	Kind       BehaviorKind
	Activities []string
}

// Allows reports whether the item may be shown while activity is in the
// foreground. An empty activity means the application is in background.
func (b Behavior) Allows(activity string) bool {
	switch b.Kind {
	case AnyTime:
		return true
	case Background:
		return activity == ""
	case Session:
		return activity != ""
	case Activity:
		return activity != "" && slices.Contains(b.Activities, activity)
	}
	return false
}

// Notification describes the optional notification step shown before the
// content itself.
type Notification struct {
	// System notifications are handed to the platform tray, the others are
	// drawn in-app.
	System    bool
	Title     string
	Message   string
	Icon      bool
	Closeable bool
	Sound     bool
	Vibrate   bool
	// Image is base64 encoded.
	Image string
}

// DecodedImage returns the raw image bytes, nil when there is no image.
func (n Notification) DecodedImage() ([]byte, error) {
	if n.Image == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(n.Image)
}

// StatusPrefix is prepended to notification feedback statuses.
func (n Notification) StatusPrefix() string {
	if n.System {
		return "system-notification-"
	}
	return "in-app-notification-"
}

// Interactive is content a user sees and acts on.
type Interactive interface {
	Content

	Title() string
	ActionLabel() string
	ExitLabel() string
	Behavior() Behavior
	Notification() (Notification, bool)
	// CanNotify applies the behavior to the current foreground activity.
	CanNotify(activity string) bool
	FromNativePush() bool
	// MarkFromNativePush records that the platform delivered the item. It
	// returns false if the item was already marked.
	MarkFromNativePush() bool

	interactiveBase() *interactive
}

type interactive struct {
	base

	title        string
	actionLabel  string
	exitLabel    string
	behavior     Behavior
	notification *Notification

	nativePush atomic.Bool
}

func (i *interactive) interactiveBase() *interactive { return i }

func (i *interactive) Title() string       { return i.title }
func (i *interactive) ActionLabel() string { return i.actionLabel }
func (i *interactive) ExitLabel() string   { return i.exitLabel }

func (i *interactive) Behavior() Behavior {
	b := i.behavior
	b.Activities = slices.Clone(b.Activities)
	return b
}

func (i *interactive) Notification() (Notification, bool) {
	if i.notification == nil {
		return Notification{}, false
	}
	return *i.notification, true
}

// CanNotify also lets a system notification that was already put in the
// tray be shown again whatever the foreground state.
func (i *interactive) CanNotify(activity string) bool {
	if i.notification != nil && i.notification.System && i.Stage() >= StageNotificationDisplayed {
		return true
	}
	return i.behavior.Allows(activity)
}

func (i *interactive) FromNativePush() bool { return i.nativePush.Load() }

func (i *interactive) MarkFromNativePush() bool {
	return i.nativePush.CompareAndSwap(false, true)
}
