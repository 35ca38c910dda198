package engine

import (
	"context"
	"fmt"

	"reach-engine/internal/content"
	"reach-engine/internal/feedback"
)

func (e *Engine) live(id uint64) (content.Content, error) {
	c, ok := e.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: no content %d", ErrInvalidTransition, id)
	}
	if _, trashed := e.trash[id]; trashed || c.Processed() {
		return nil, fmt.Errorf("%w: content %d already processed", ErrInvalidTransition, id)
	}
	return c, nil
}

func (e *Engine) liveInteractive(id uint64) (content.Interactive, error) {
	c, err := e.live(id)
	if err != nil {
		return nil, err
	}
	i, ok := c.(content.Interactive)
	if !ok {
		return nil, fmt.Errorf("%w: content %d is not interactive", ErrInvalidTransition, id)
	}
	return i, nil
}

// presented is liveInteractive restricted to the item currently handed to
// a presenter. Only it may move through the display stages.
func (e *Engine) presented(id uint64) (content.Interactive, error) {
	c, err := e.liveInteractive(id)
	if err != nil {
		return nil, err
	}
	if id != e.presenting {
		return nil, fmt.Errorf("%w: content %d is not being presented", ErrInvalidTransition, id)
	}
	return c, nil
}

// ActionNotification records that the user opened the notification. A
// notification-only announcement is processed by it.
func (e *Engine) ActionNotification(ctx context.Context, id uint64) error {
	c, err := e.presented(id)
	if err != nil {
		return err
	}
	n, ok := c.Notification()
	if !ok || !c.Advance(content.StageNotificationActioned) {
		return fmt.Errorf("%w: notification of %d cannot be actioned", ErrInvalidTransition, id)
	}
	e.dirty = true
	e.report(c, n.StatusPrefix()+feedback.NotificationActioned, nil)
	if _, notifOnly := c.(*content.NotifAnnouncement); notifOnly {
		e.process(ctx, id, c)
	}
	return e.finishOp(ctx)
}

// ExitNotification records that the user dismissed the notification and
// processes the item.
func (e *Engine) ExitNotification(ctx context.Context, id uint64) error {
	c, err := e.liveInteractive(id)
	if err != nil {
		return err
	}
	n, ok := c.Notification()
	if !ok || c.Stage() >= content.StageNotificationActioned {
		return fmt.Errorf("%w: notification of %d cannot be exited", ErrInvalidTransition, id)
	}
	e.report(c, n.StatusPrefix()+feedback.NotificationExited, nil)
	e.process(ctx, id, c)
	return e.finishOp(ctx)
}

// DisplayContent records that the content itself is on screen.
func (e *Engine) DisplayContent(ctx context.Context, id uint64) error {
	c, err := e.presented(id)
	if err != nil {
		return err
	}
	if _, notifOnly := c.(*content.NotifAnnouncement); notifOnly {
		return fmt.Errorf("display content %d: %w", id, content.ErrUnsupported)
	}
	if !c.Advance(content.StageContentDisplayed) {
		return fmt.Errorf("%w: content %d already displayed", ErrInvalidTransition, id)
	}
	e.dirty = true
	e.report(c, feedback.StatusContentDisplayed, nil)
	return e.finishOp(ctx)
}

// ActionContent records the user's positive action and processes the
// item. For polls, answers are filled first and the feedback carries the
// submission, defaults included; a bad answer leaves the poll untouched.
func (e *Engine) ActionContent(ctx context.Context, id uint64, answers map[string]string) error {
	c, err := e.presented(id)
	if err != nil {
		return err
	}
	var extras map[string]string
	switch v := c.(type) {
	case *content.NotifAnnouncement:
		return fmt.Errorf("action content %d: %w", id, content.ErrUnsupported)
	case *content.Poll:
		for _, q := range v.Questions() {
			if a, ok := answers[q.ID]; ok {
				if err := v.FillAnswer(q.ID, a); err != nil {
					return fmt.Errorf("action content %d: %w", id, err)
				}
			}
		}
		extras = v.Submission()
	}
	e.report(c, feedback.StatusContentActioned, extras)
	e.process(ctx, id, c)
	return e.finishOp(ctx)
}

// ExitContent records that the user closed the content and processes it.
func (e *Engine) ExitContent(ctx context.Context, id uint64) error {
	c, err := e.presented(id)
	if err != nil {
		return err
	}
	if _, notifOnly := c.(*content.NotifAnnouncement); notifOnly {
		return fmt.Errorf("exit content %d: %w", id, content.ErrUnsupported)
	}
	e.report(c, feedback.StatusContentExited, nil)
	e.process(ctx, id, c)
	return e.finishOp(ctx)
}

// Drop discards an item with dropped feedback.
func (e *Engine) Drop(ctx context.Context, id uint64) error {
	c, err := e.live(id)
	if err != nil {
		return err
	}
	e.report(c, feedback.StatusDropped, nil)
	e.process(ctx, id, c)
	return e.finishOp(ctx)
}

// MarkContentProcessed ends an item's lifecycle without feedback.
func (e *Engine) MarkContentProcessed(ctx context.Context, id uint64) error {
	c, err := e.live(id)
	if err != nil {
		return err
	}
	e.process(ctx, id, c)
	return e.finishOp(ctx)
}

// process removes c and rescans. During a scan removal is deferred to
// the end of the pass.
func (e *Engine) process(ctx context.Context, id uint64, c content.Content) {
	c.Advance(content.StageProcessed)
	e.logger.Debug().Uint64("local_id", id).Str("content_id", c.ContentID()).Msg("content processed")

	if id == e.presenting {
		e.presenting = 0
		if p := e.presenterFor(c.Category()); p != nil {
			p.Clear(categoryKey(c.Category()))
		}
	}
	if e.state == Scanning {
		e.trash[id] = struct{}{}
		e.rescan = true
		return
	}
	e.noteDurability(e.cache.Remove(ctx, id))
	if e.state == Presenting && e.presenting == 0 {
		e.state = Idle
	}
	e.scan(ctx)
}
