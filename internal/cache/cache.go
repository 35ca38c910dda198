// Package cache holds the bounded, optionally persisted store the engine
// keeps its content in, plus a lock-free Snapshot for read-mostly values.
package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrDurability wraps every failure to write or delete the durable copy.
// The in-memory state is kept when it is returned.
var ErrDurability = errors.New("cache durability failure")

const defaultSyncTimeout = 5 * time.Second

// Record is one persisted entry.
type Record struct {
	ID   uint64
	Data []byte
}

// Persister stores whole collections keyed by name.
type Persister interface {
	// Load returns the last saved collection. found is false when nothing
	// usable is stored under name.
	Load(ctx context.Context, name string) (version int, records []Record, found bool, err error)
	// Save atomically replaces the collection stored under name.
	Save(ctx context.Context, name string, version int, records []Record) error
	Delete(ctx context.Context, name string) error
}

// Codec turns entries into bytes and back.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

type Options[T any] struct {
	Name    string
	Version int
	// Capacity bounds the number of entries. Zero means unbounded.
	Capacity int
	// Persisted writes the collection after every mutation.
	Persisted bool

	Persister Persister
	Codec     Codec[T]

	// OnEvict is called for each entry pushed out by capacity, oldest
	// first, before it is dropped.
	OnEvict func(id uint64, v T)
	// Pinned entries are skipped by eviction.
	Pinned func(id uint64) bool

	SyncTimeout time.Duration
}

// Cache is an insertion-ordered, capacity-bounded store keyed by a
// monotonic id. It is not safe for concurrent use; callers serialize
// access.
type Cache[T any] struct {
	opts    Options[T]
	order   []uint64
	entries map[uint64]T
	nextID  uint64
}

// New returns an empty cache. Nothing is read from the persister.
func New[T any](opts Options[T]) *Cache[T] {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	return &Cache[T]{
		opts:    opts,
		entries: make(map[uint64]T),
		nextID:  1,
	}
}

// Open returns a cache primed with the collection persisted under
// opts.Name. A missing collection or one written with another version
// yields an empty cache. Entries that fail to decode are skipped.
func Open[T any](ctx context.Context, opts Options[T]) (*Cache[T], error) {
	c := New(opts)
	if opts.Persister == nil || opts.Codec == nil {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.SyncTimeout)
	defer cancel()

	version, records, found, err := opts.Persister.Load(ctx, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("load cache %s: %w", opts.Name, err)
	}
	if !found {
		return c, nil
	}
	if version != opts.Version {
		log.Info().Str("cache", opts.Name).Int("stored", version).Int("want", opts.Version).
			Msg("cache version changed, starting empty")
		return c, nil
	}

	slices.SortFunc(records, func(a, b Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	for _, r := range records {
		if r.ID >= c.nextID {
			c.nextID = r.ID + 1
		}
		v, err := opts.Codec.Decode(r.Data)
		if err != nil {
			log.Warn().Err(err).Str("cache", opts.Name).Uint64("id", r.ID).Msg("skipping undecodable entry")
			continue
		}
		if _, dup := c.entries[r.ID]; dup {
			continue
		}
		c.order = append(c.order, r.ID)
		c.entries[r.ID] = v
	}
	c.evict()
	return c, nil
}

func (c *Cache[T]) Name() string  { return c.opts.Name }
func (c *Cache[T]) Capacity() int { return c.opts.Capacity }
func (c *Cache[T]) Len() int      { return len(c.order) }

// Persisted reports whether every mutation is written through.
func (c *Cache[T]) Persisted() bool { return c.opts.Persisted }

// Get returns the entry stored under id.
func (c *Cache[T]) Get(id uint64) (T, bool) {
	v, ok := c.entries[id]
	return v, ok
}

func (c *Cache[T]) Contains(id uint64) bool {
	_, ok := c.entries[id]
	return ok
}

// IDs returns a copy of the ids, oldest first.
func (c *Cache[T]) IDs() []uint64 {
	return slices.Clone(c.order)
}

// All yields entries oldest first. It iterates over the ids present when
// it starts and skips those removed meanwhile.
func (c *Cache[T]) All() iter.Seq2[uint64, T] {
	ids := c.IDs()
	return func(yield func(uint64, T) bool) {
		for _, id := range ids {
			v, ok := c.entries[id]
			if !ok {
				continue
			}
			if !yield(id, v) {
				return
			}
		}
	}
}

// Put stores v under the next id. The returned id is valid even when the
// error reports a durability failure.
func (c *Cache[T]) Put(ctx context.Context, v T) (uint64, error) {
	id := c.insert(v)
	if c.opts.Persisted {
		return id, c.Synchronize(ctx)
	}
	return id, nil
}

// PutAll stores vs in order with at most one durable write.
func (c *Cache[T]) PutAll(ctx context.Context, vs []T) ([]uint64, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	ids := make([]uint64, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, c.insert(v))
	}
	if c.opts.Persisted {
		return ids, c.Synchronize(ctx)
	}
	return ids, nil
}

func (c *Cache[T]) insert(v T) uint64 {
	id := c.nextID
	c.nextID++
	c.order = append(c.order, id)
	c.entries[id] = v
	c.evict()
	return id
}

func (c *Cache[T]) evict() {
	if c.opts.Capacity <= 0 {
		return
	}
	for i := 0; len(c.order) > c.opts.Capacity && i < len(c.order); {
		id := c.order[i]
		if c.opts.Pinned != nil && c.opts.Pinned(id) {
			i++
			continue
		}
		if c.opts.OnEvict != nil {
			c.opts.OnEvict(id, c.entries[id])
		}
		delete(c.entries, id)
		c.order = slices.Delete(c.order, i, i+1)
	}
}

// Remove drops id. Unknown ids are ignored.
func (c *Cache[T]) Remove(ctx context.Context, id uint64) error {
	if !c.remove(id) {
		return nil
	}
	if c.opts.Persisted {
		return c.Synchronize(ctx)
	}
	return nil
}

// RemoveAll drops every listed id with at most one durable write.
func (c *Cache[T]) RemoveAll(ctx context.Context, ids []uint64) error {
	removed := false
	for _, id := range ids {
		if c.remove(id) {
			removed = true
		}
	}
	if removed && c.opts.Persisted {
		return c.Synchronize(ctx)
	}
	return nil
}

func (c *Cache[T]) remove(id uint64) bool {
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

// Clear empties the cache and deletes the durable copy. Ids keep
// increasing afterwards.
func (c *Cache[T]) Clear(ctx context.Context) error {
	c.order = nil
	c.entries = make(map[uint64]T)
	if c.opts.Persister == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.SyncTimeout)
	defer cancel()
	if err := c.opts.Persister.Delete(ctx, c.opts.Name); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrDurability, c.opts.Name, err)
	}
	return nil
}

// Synchronize writes the whole collection, whatever the Persisted flag.
// A cache without persister has nothing to write.
func (c *Cache[T]) Synchronize(ctx context.Context) error {
	if c.opts.Persister == nil || c.opts.Codec == nil {
		return nil
	}
	records := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		data, err := c.opts.Codec.Encode(c.entries[id])
		if err != nil {
			return fmt.Errorf("%w: encode %s/%d: %w", ErrDurability, c.opts.Name, id, err)
		}
		records = append(records, Record{ID: id, Data: data})
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.SyncTimeout)
	defer cancel()
	if err := c.opts.Persister.Save(ctx, c.opts.Name, c.opts.Version, records); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrDurability, c.opts.Name, err)
	}
	return nil
}
