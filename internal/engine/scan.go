package engine

import (
	"context"

	"reach-engine/internal/content"
	"reach-engine/internal/feedback"
	"reach-engine/internal/observability"
)

// trigger runs a scan unless one is in progress, in which case the scan
// repeats once it completes.
func (e *Engine) trigger(ctx context.Context) {
	if e.state == Scanning {
		e.rescan = true
		return
	}
	e.scan(ctx)
}

func (e *Engine) scan(ctx context.Context) {
	e.state = Scanning
	for {
		e.rescan = false
		e.scanOnce()
		if !e.rescan {
			break
		}
	}

	if len(e.trash) > 0 {
		ids := make([]uint64, 0, len(e.trash))
		for id := range e.trash {
			ids = append(ids, id)
		}
		clear(e.trash)
		e.noteDurability(e.cache.RemoveAll(ctx, ids))
	}

	if e.presenting != 0 {
		e.state = Presenting
	} else {
		e.state = Idle
	}
}

// scanOnce walks the cache oldest first. Data-pushes are delivered
// whatever is being shown; the first eligible interactive item is
// presented when nothing is.
func (e *Engine) scanOnce() {
	now := e.now()
	for id, c := range e.cache.All() {
		if _, trashed := e.trash[id]; trashed || id == e.presenting {
			continue
		}
		if c.Processed() {
			e.trash[id] = struct{}{}
			continue
		}
		if c.IsExpired(now) {
			e.logger.Debug().Uint64("local_id", id).Str("content_id", c.ContentID()).Msg("content expired")
			e.trash[id] = struct{}{}
			continue
		}

		switch v := c.(type) {
		case *content.DataPush:
			e.deliver(id, v)
		case content.Interactive:
			if e.presenting == 0 {
				e.present(id, v)
			}
		}
	}
}

func (e *Engine) deliver(id uint64, d *content.DataPush) {
	r := e.receiverFor(d.Category())
	if r == nil {
		return
	}
	observability.ContentsPresented.WithLabelValues(string(d.Kind())).Inc()
	accepted, err := r.Receive(d)
	status := feedback.StatusContentExited
	switch {
	case err != nil:
		e.logger.Warn().Err(err).Uint64("local_id", id).Str("content_id", d.ContentID()).Msg("data-push receiver failed")
		status = feedback.StatusDropped
	case accepted:
		status = feedback.StatusContentActioned
	}
	if !d.Advance(content.StageProcessed) {
		// processed from inside Receive
		return
	}
	e.report(d, status, nil)
	e.trash[id] = struct{}{}
}

func (e *Engine) present(id uint64, c content.Interactive) {
	if !c.CanNotify(e.activity) || !e.belowCap(id) {
		return
	}
	p := e.presenterFor(c.Category())
	if p == nil {
		return
	}

	e.presenting = id
	if !p.Handle(c) {
		if e.presenting == id {
			e.presenting = 0
		}
		return
	}
	observability.ContentsPresented.WithLabelValues(string(c.Kind())).Inc()
	e.logger.Info().Uint64("local_id", id).Str("content_id", c.ContentID()).Str("category", c.Category()).
		Str("kind", string(c.Kind())).Msg("presenting content")
	if !c.Processed() {
		e.markDisplayed(c)
	}
}

func (e *Engine) markDisplayed(c content.Interactive) {
	if n, ok := c.Notification(); ok && c.Stage() < content.StageNotificationActioned {
		if c.Advance(content.StageNotificationDisplayed) {
			e.dirty = true
			e.report(c, n.StatusPrefix()+feedback.NotificationDisplayed, nil)
		}
		return
	}
	if _, notifOnly := c.(*content.NotifAnnouncement); notifOnly {
		return
	}
	if c.Advance(content.StageContentDisplayed) {
		e.dirty = true
		e.report(c, feedback.StatusContentDisplayed, nil)
	}
}

// belowCap counts the other displayed, unprocessed interactive items.
func (e *Engine) belowCap(id uint64) bool {
	limit := e.opts.MaxCampaigns
	if limit < 0 {
		return true
	}
	if limit == 0 {
		return false
	}
	n := 0
	for oid, oc := range e.cache.All() {
		if oid == id || oc.Processed() {
			continue
		}
		if _, trashed := e.trash[oid]; trashed {
			continue
		}
		if _, ok := oc.(content.Interactive); ok && oc.Stage() >= content.StageNotificationDisplayed {
			n++
		}
	}
	return n < limit
}
