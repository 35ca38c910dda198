// Package engine decides which cached content item is shown next and to
// which presenter, and tracks every item until it is processed.
//
// An Engine is single-writer: all calls must come from one goroutine,
// usually through a Loop. Status may be read from anywhere.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reach-engine/internal/cache"
	"reach-engine/internal/content"
	"reach-engine/internal/feedback"
	"reach-engine/internal/markup"
	"reach-engine/internal/observability"
)

type Engine struct {
	opts   Options
	logger zerolog.Logger
	params content.Params
	now    func() time.Time

	cache      *cache.Cache[content.Content]
	presenters map[string]Presenter
	receivers  map[string]DataPushReceiver

	state      State
	activity   string
	presenting uint64
	trash      map[uint64]struct{}
	rescan     bool
	dirty      bool
	syncErr    error

	status cache.Snapshot[Status]
}

// Open builds an engine over the cache persisted by opts.Persister, if
// any. Nothing is scanned until the first trigger.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	e := &Engine{
		opts:       opts,
		logger:     opts.Logger.With().Str("component", "engine").Logger(),
		params:     opts.Params.Clone(),
		now:        opts.Now,
		presenters: make(map[string]Presenter),
		receivers:  make(map[string]DataPushReceiver),
		trash:      make(map[uint64]struct{}),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.params == nil {
		e.params = content.Params{}
	}
	if opts.DeviceID != "" {
		e.params["deviceid"] = opts.DeviceID
	}

	c, err := cache.Open(ctx, cache.Options[content.Content]{
		Name:      opts.CacheName,
		Version:   opts.CacheVersion,
		Capacity:  opts.CacheCapacity,
		Persisted: opts.Persisted,
		Persister: opts.Persister,
		Codec:     content.Codec{},
		OnEvict:   e.onEvict,
		Pinned:    e.isPresenting,
	})
	if err != nil {
		return nil, fmt.Errorf("open content cache: %w", err)
	}
	e.cache = c
	for id, item := range c.All() {
		item.SetLocalID(id)
	}
	e.logger.Info().Int("restored", c.Len()).Str("cache", opts.CacheName).Msg("engine ready")
	e.publish()
	return e, nil
}

// RegisterPresenter sets the presenter for category, replacing any
// previous one. An empty category registers the fallback presenter.
func (e *Engine) RegisterPresenter(category string, p Presenter) {
	e.presenters[categoryKey(category)] = p
}

// RegisterReceiver sets the data-push receiver for category.
func (e *Engine) RegisterReceiver(category string, r DataPushReceiver) {
	e.receivers[categoryKey(category)] = r
}

func categoryKey(category string) string {
	if category == "" {
		return content.DefaultCategory
	}
	return category
}

func (e *Engine) presenterFor(category string) Presenter {
	if p, ok := e.presenters[categoryKey(category)]; ok {
		return p
	}
	return e.presenters[content.DefaultCategory]
}

func (e *Engine) receiverFor(category string) DataPushReceiver {
	if r, ok := e.receivers[categoryKey(category)]; ok {
		return r
	}
	return e.receivers[content.DefaultCategory]
}

// Ingest parses payload and caches every usable content item, then
// triggers a scan. The payload root is either one content element or a
// container of them. Unusable elements are skipped; a malformed payload
// is rejected as a whole. native marks interactive items as delivered by
// the platform push channel.
func (e *Engine) Ingest(ctx context.Context, payload []byte, native bool) (IngestResult, error) {
	var res IngestResult
	doc, err := markup.Parse(payload)
	if err != nil {
		observability.ContentsSkipped.WithLabelValues("malformed").Inc()
		return res, fmt.Errorf("ingest payload: %w", err)
	}
	defer doc.Release()

	root := doc.Root()
	elems := []markup.Element{root}
	if !content.IsKind(root.LocalName()) {
		elems = root.Children()
	}

	var items []content.Content
	for _, el := range elems {
		c, err := content.Parse(el, e.params)
		if err != nil {
			res.Skipped++
			observability.ContentsSkipped.WithLabelValues("unparseable").Inc()
			e.logger.Debug().Err(err).Str("element", el.Name()).Msg("skipping content")
			continue
		}
		if e.known(c, items) {
			res.Skipped++
			observability.ContentsSkipped.WithLabelValues("duplicate").Inc()
			e.logger.Debug().Str("content_id", c.ContentID()).Str("kind", string(c.Kind())).Msg("skipping duplicate content")
			continue
		}
		if i, ok := c.(content.Interactive); ok && native {
			i.MarkFromNativePush()
		}
		items = append(items, c)
	}

	ids, err := e.cache.PutAll(ctx, items)
	e.noteDurability(err)
	for i, id := range ids {
		items[i].SetLocalID(id)
		observability.ContentsIngested.WithLabelValues(string(items[i].Kind())).Inc()
		if e.cache.Contains(id) {
			res.Stored = append(res.Stored, id)
		}
	}
	if len(ids) > 0 {
		e.logger.Info().Int("stored", len(res.Stored)).Int("skipped", res.Skipped).Msg("payload ingested")
		e.trigger(ctx)
	}
	return res, e.finishOp(ctx)
}

// known reports whether a live item with the same kind and id is cached
// or pending in the batch.
func (e *Engine) known(c content.Content, pending []content.Content) bool {
	same := func(other content.Content) bool {
		return other.Kind() == c.Kind() && other.ContentID() == c.ContentID()
	}
	for _, other := range pending {
		if same(other) {
			return true
		}
	}
	for id, other := range e.cache.All() {
		if _, trashed := e.trash[id]; trashed || other.Processed() {
			continue
		}
		if same(other) {
			return true
		}
	}
	return false
}

// SetActivity records the foreground activity; "" means background.
// A change triggers a scan but never dismisses what is shown.
func (e *Engine) SetActivity(ctx context.Context, activity string) error {
	if activity == e.activity {
		return nil
	}
	e.logger.Debug().Str("from", e.activity).Str("to", activity).Msg("activity changed")
	e.activity = activity
	e.trigger(ctx)
	return e.finishOp(ctx)
}

// Scan triggers a scan, e.g. after presenters were registered.
func (e *Engine) Scan(ctx context.Context) error {
	e.trigger(ctx)
	return e.finishOp(ctx)
}

func (e *Engine) Activity() string { return e.activity }

func (e *Engine) State() State { return e.state }

// Get returns a cached item by local id.
func (e *Engine) Get(id uint64) (content.Content, bool) {
	return e.cache.Get(id)
}

// Presenting returns the item currently handed to a presenter.
func (e *Engine) Presenting() (content.Interactive, bool) {
	if e.presenting == 0 {
		return nil, false
	}
	c, ok := e.cache.Get(e.presenting)
	if !ok {
		return nil, false
	}
	i, ok := c.(content.Interactive)
	return i, ok
}

// Status returns the last published status. Safe for concurrent use.
func (e *Engine) Status() Status {
	s, _ := e.status.Load()
	return s
}

// Synchronize writes the cache durably, whatever its persisted flag.
func (e *Engine) Synchronize(ctx context.Context) error {
	err := e.cache.Synchronize(ctx)
	if err == nil {
		e.dirty = false
	}
	e.noteDurability(err)
	e.syncErr = nil
	return err
}

// Clear drops every cached item without feedback.
func (e *Engine) Clear(ctx context.Context) error {
	if p, ok := e.Presenting(); ok {
		if pr := e.presenterFor(p.Category()); pr != nil {
			pr.Clear(categoryKey(p.Category()))
		}
	}
	e.presenting = 0
	clear(e.trash)
	e.noteDurability(e.cache.Clear(ctx))
	if e.state != Scanning {
		e.state = Idle
	}
	return e.finishOp(ctx)
}

func (e *Engine) isPresenting(id uint64) bool {
	return id != 0 && id == e.presenting
}

func (e *Engine) onEvict(id uint64, c content.Content) {
	observability.ContentsEvicted.Inc()
	delete(e.trash, id)
	e.logger.Info().Uint64("local_id", id).Str("content_id", c.ContentID()).Str("kind", string(c.Kind())).
		Msg("cache full, evicting content")
	if c.Advance(content.StageProcessed) {
		e.report(c, feedback.StatusDropped, nil)
	}
}

func (e *Engine) report(c content.Content, status string, extras map[string]string) {
	if !c.FeedbackRequired() || e.opts.Feedback == nil {
		return
	}
	e.opts.Feedback.Submit(feedback.Feedback{
		Kind:      c.Kind(),
		ContentID: c.ContentID(),
		Category:  c.Category(),
		Status:    status,
		Extras:    extras,
		DeviceID:  e.opts.DeviceID,
		At:        e.now(),
	})
}

func (e *Engine) noteDurability(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, cache.ErrDurability) {
		observability.DurabilityFailures.Inc()
	}
	e.logger.Error().Err(err).Msg("content cache write failed, keeping memory state")
	e.syncErr = errors.Join(e.syncErr, err)
}

// finishOp writes pending stage changes of a persisted cache, publishes
// the status and returns the durability errors seen by the operation.
func (e *Engine) finishOp(ctx context.Context) error {
	if e.dirty && e.cache.Persisted() {
		if err := e.cache.Synchronize(ctx); err != nil {
			e.noteDurability(err)
		} else {
			e.dirty = false
		}
	}
	e.publish()
	err := e.syncErr
	e.syncErr = nil
	return err
}

func (e *Engine) publish() {
	st := Status{State: e.state, Activity: e.activity, Items: make([]Item, 0, e.cache.Len())}
	for id, c := range e.cache.All() {
		it := Item{
			LocalID:   id,
			ContentID: c.ContentID(),
			Kind:      string(c.Kind()),
			Category:  c.Category(),
			Stage:     c.Stage().String(),
		}
		if x, ok := c.Expiry(); ok {
			at := x.Deadline(time.Local)
			it.ExpiresAt = &at
		}
		st.Items = append(st.Items, it)
		if id == e.presenting {
			p := it
			st.Presenting = &p
		}
	}
	observability.CacheEntries.Set(float64(len(st.Items)))
	e.status.Store(st)
}
