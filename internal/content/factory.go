package content

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reach-engine/internal/markup"
)

// Parse builds the content variant selected by e's local tag name.
// Errors wrap ErrUnparseable.
func Parse(e markup.Element, params Params) (Content, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: invalid element", ErrUnparseable)
	}
	switch Kind(e.LocalName()) {
	case KindAnnouncement:
		a, err := parseAnnouncement(e, params)
		if err != nil {
			return nil, err
		}
		return a, nil
	case KindNotifAnnouncement:
		n, err := parseNotifAnnouncement(e, params)
		if err != nil {
			return nil, err
		}
		return n, nil
	case KindPoll:
		p, err := parsePoll(e, params)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindDataPush:
		d, err := parseDataPush(e, params)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: unknown element <%s>", ErrUnparseable, e.Name())
}

// FromElement is Parse without the reason.
func FromElement(e markup.Element, params Params) Content {
	c, err := Parse(e, params)
	if err != nil {
		return nil
	}
	return c
}

// AnnouncementFromElement returns nil unless e is a usable announcement.
func AnnouncementFromElement(e markup.Element, params Params) *Announcement {
	if e.LocalName() != string(KindAnnouncement) {
		return nil
	}
	a, err := parseAnnouncement(e, params)
	if err != nil {
		return nil
	}
	return a
}

// NotifAnnouncementFromElement returns nil unless e is a usable
// notification-only announcement.
func NotifAnnouncementFromElement(e markup.Element, params Params) *NotifAnnouncement {
	if e.LocalName() != string(KindNotifAnnouncement) {
		return nil
	}
	n, err := parseNotifAnnouncement(e, params)
	if err != nil {
		return nil
	}
	return n
}

// PollFromElement returns nil unless e is a usable poll.
func PollFromElement(e markup.Element, params Params) *Poll {
	if e.LocalName() != string(KindPoll) {
		return nil
	}
	p, err := parsePoll(e, params)
	if err != nil {
		return nil
	}
	return p
}

// DataPushFromElement returns nil unless e is a usable data-push.
func DataPushFromElement(e markup.Element, params Params) *DataPush {
	if e.LocalName() != string(KindDataPush) {
		return nil
	}
	d, err := parseDataPush(e, params)
	if err != nil {
		return nil
	}
	return d
}

func unparseable(e markup.Element, format string, args ...any) error {
	id, _ := e.Attr("id")
	return fmt.Errorf("%w: <%s id=%q>: %s", ErrUnparseable, e.LocalName(), id, fmt.Sprintf(format, args...))
}

func parseAnnouncement(e markup.Element, params Params) (*Announcement, error) {
	a := &Announcement{}
	if err := a.parseAnnouncement(e, KindAnnouncement, params); err != nil {
		return nil, err
	}
	switch t := AnnouncementType(strings.TrimSpace(e.AttrOr("type", string(TextPlain)))); t {
	case TextPlain, TextHTML:
		a.mimeType = t
	default:
		return nil, unparseable(e, "unsupported type %q", t)
	}
	return a, nil
}

func parseNotifAnnouncement(e markup.Element, params Params) (*NotifAnnouncement, error) {
	n := &NotifAnnouncement{}
	if err := n.parseAnnouncement(e, KindNotifAnnouncement, params); err != nil {
		return nil, err
	}
	if n.notification == nil {
		return nil, unparseable(e, "missing notification")
	}
	return n, nil
}

func parsePoll(e markup.Element, params Params) (*Poll, error) {
	p := &Poll{}
	if err := p.parseInteractive(e, KindPoll, params); err != nil {
		return nil, err
	}
	qs := descendants(e, "question")
	if len(qs) == 0 {
		return nil, unparseable(e, "poll has no questions")
	}
	seen := make(map[string]bool, len(qs))
	for _, qe := range qs {
		q := Question{ID: strings.TrimSpace(qe.AttrOr("id", "")), Title: childText(qe, "title")}
		if q.ID == "" {
			return nil, unparseable(e, "question without id")
		}
		if seen[q.ID] {
			return nil, unparseable(e, "duplicate question %q", q.ID)
		}
		seen[q.ID] = true

		choices := make(map[string]bool)
		defaults := 0
		for _, ce := range descendants(qe, "choice") {
			c := Choice{
				ID:      strings.TrimSpace(ce.AttrOr("id", "")),
				Title:   strings.TrimSpace(ce.Text()),
				Default: boolAttr(ce, "default", false),
			}
			if c.ID == "" {
				return nil, unparseable(e, "question %q: choice without id", q.ID)
			}
			if choices[c.ID] {
				return nil, unparseable(e, "question %q: duplicate choice %q", q.ID, c.ID)
			}
			choices[c.ID] = true
			if c.Default {
				defaults++
			}
			q.Choices = append(q.Choices, c)
		}
		if len(q.Choices) == 0 {
			return nil, unparseable(e, "question %q has no choices", q.ID)
		}
		if defaults > 1 {
			return nil, unparseable(e, "question %q has %d default choices", q.ID, defaults)
		}
		p.questions = append(p.questions, q)
	}
	return p, nil
}

func parseDataPush(e markup.Element, params Params) (*DataPush, error) {
	d := &DataPush{}
	if err := d.parseBase(e, KindDataPush, params); err != nil {
		return nil, err
	}
	switch t := strings.TrimSpace(e.AttrOr("type", "")); t {
	case "text", "text/plain":
		d.dataType = DataText
	case "base64", "text/base64":
		d.dataType = DataBase64
		if _, err := base64.StdEncoding.DecodeString(strings.TrimSpace(d.body)); err != nil {
			return nil, unparseable(e, "body is not base64: %v", err)
		}
	default:
		return nil, unparseable(e, "unsupported type %q", t)
	}
	return d, nil
}

func (b *base) parseBase(e markup.Element, kind Kind, params Params) error {
	b.kind = kind
	b.id = strings.TrimSpace(e.AttrOr("id", ""))
	if b.id == "" {
		return unparseable(e, "missing id")
	}
	b.category = strings.TrimSpace(e.AttrOr("category", ""))
	b.feedback = boolAttr(e, "feedback", true)
	b.params = params.Clone()
	b.raw = bytes.Clone(e.Raw())

	body := child(e, "body")
	if !body.Valid() && kind == KindDataPush && e.HasText() {
		body = e
	}
	b.body = params.Apply(body.Text())

	if x := child(e, "expiry"); x.Valid() {
		v := strings.TrimSpace(x.Text())
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return unparseable(e, "invalid expiry %q", v)
		}
		b.expiry = &Expiry{At: time.UnixMilli(ms).UTC(), LocalTZ: boolAttr(x, "localtz", false)}
	}
	return nil
}

func (i *interactive) parseInteractive(e markup.Element, kind Kind, params Params) error {
	if err := i.parseBase(e, kind, params); err != nil {
		return err
	}
	i.title = childText(e, "title")
	i.actionLabel = childText(child(e, "action"), "label")
	i.exitLabel = childText(child(e, "exit"), "label")

	if be := child(e, "behavior"); be.Valid() {
		switch {
		case child(be, "session").Valid():
			i.behavior.Kind = Session
		case child(be, "background").Valid():
			i.behavior.Kind = Background
		default:
			for _, ae := range children(be, "activity") {
				if name := strings.TrimSpace(ae.Text()); name != "" {
					i.behavior.Activities = append(i.behavior.Activities, name)
				}
			}
			if len(i.behavior.Activities) > 0 {
				i.behavior.Kind = Activity
			}
		}
	}

	if ne := child(e, "notification"); ne.Valid() {
		i.notification = &Notification{
			System:    ne.AttrOr("type", "system") != "activity",
			Title:     childText(ne, "title"),
			Message:   childText(ne, "message"),
			Icon:      boolAttr(ne, "icon", true),
			Closeable: boolAttr(ne, "closeable", true),
			Sound:     boolAttr(ne, "sound", false),
			Vibrate:   boolAttr(ne, "vibrate", false),
			Image:     strings.TrimSpace(childText(ne, "image")),
		}
	}
	return nil
}

func (a *announcement) parseAnnouncement(e markup.Element, kind Kind, params Params) error {
	if err := a.parseInteractive(e, kind, params); err != nil {
		return err
	}
	a.actionURL = params.Apply(childText(child(e, "action"), "url"))
	return nil
}

func child(e markup.Element, local string) markup.Element {
	for c := e.FirstChild(); c.Valid(); c = c.Next() {
		if c.LocalName() == local {
			return c
		}
	}
	return markup.Element{}
}

func children(e markup.Element, local string) []markup.Element {
	var out []markup.Element
	for c := e.FirstChild(); c.Valid(); c = c.Next() {
		if c.LocalName() == local {
			out = append(out, c)
		}
	}
	return out
}

// descendants walks e's subtree in document order. Matches are not
// searched further.
func descendants(e markup.Element, local string) []markup.Element {
	var out []markup.Element
	var walk func(markup.Element)
	walk = func(n markup.Element) {
		for c := n.FirstChild(); c.Valid(); c = c.Next() {
			if c.LocalName() == local {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(e)
	return out
}

func childText(e markup.Element, local string) string {
	return strings.TrimSpace(child(e, local).Text())
}

func boolAttr(e markup.Element, name string, def bool) bool {
	v, ok := e.Attr(name)
	if !ok {
		return def
	}
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
