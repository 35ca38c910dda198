package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringCodec struct{}

func (stringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }

func (stringCodec) Decode(data []byte) (string, error) {
	if string(data) == "corrupt" {
		return "", errors.New("corrupt entry")
	}
	return string(data), nil
}

type memPersister struct {
	saves   int
	deletes int
	failing bool

	version int
	records []Record
	found   bool
}

func (m *memPersister) Load(_ context.Context, _ string) (int, []Record, bool, error) {
	return m.version, append([]Record(nil), m.records...), m.found, nil
}

func (m *memPersister) Save(_ context.Context, _ string, version int, records []Record) error {
	if m.failing {
		return errors.New("disk full")
	}
	m.saves++
	m.version, m.records, m.found = version, records, true
	return nil
}

func (m *memPersister) Delete(_ context.Context, _ string) error {
	if m.failing {
		return errors.New("read-only")
	}
	m.deletes++
	m.records, m.found = nil, false
	return nil
}

func values(c *Cache[string]) []string {
	var out []string
	for _, v := range c.All() {
		out = append(out, v)
	}
	return out
}

func TestCache_EvictsOldestBeyondCapacity(t *testing.T) {
	ctx := context.Background()
	type evicted struct {
		id uint64
		v  string
	}
	var got []evicted
	c := New(Options[string]{
		Name:     "contents",
		Capacity: 3,
		OnEvict:  func(id uint64, v string) { got = append(got, evicted{id, v}) },
	})

	for i := 0; i < 3; i++ {
		_, err := c.Put(ctx, "v"+strconv.Itoa(i))
		require.NoError(t, err)
	}
	assert.Empty(t, got)

	id, err := c.Put(ctx, "v3")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
	assert.Equal(t, []evicted{{1, "v0"}}, got)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"v1", "v2", "v3"}, values(c))
}

func TestCache_PinnedSkippedByEviction(t *testing.T) {
	ctx := context.Background()
	var evicted []uint64
	c := New(Options[string]{
		Capacity: 2,
		Pinned:   func(id uint64) bool { return id == 1 },
		OnEvict:  func(id uint64, _ string) { evicted = append(evicted, id) },
	})
	_, _ = c.Put(ctx, "a")
	_, _ = c.Put(ctx, "b")
	_, _ = c.Put(ctx, "c")

	assert.Equal(t, []uint64{2}, evicted)
	assert.Equal(t, []uint64{1, 3}, c.IDs())
}

func TestCache_RemoveUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	c := New(Options[string]{Persisted: true, Persister: p, Codec: stringCodec{}})
	_, err := c.Put(ctx, "a")
	require.NoError(t, err)
	saves := p.saves

	require.NoError(t, c.Remove(ctx, 42))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"a"}, values(c))
	assert.Equal(t, saves, p.saves, "no write for a no-op")
}

func TestCache_PersistedWritesThrough(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	c := New(Options[string]{Name: "n", Version: 2, Persisted: true, Persister: p, Codec: stringCodec{}})

	_, err := c.Put(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, p.saves)

	ids, err := c.PutAll(ctx, []string{"b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3, 4}, ids)
	assert.Equal(t, 2, p.saves, "one write per batch")

	require.NoError(t, c.Remove(ctx, 1))
	assert.Equal(t, 3, p.saves)
	assert.Equal(t, 2, p.version)
	assert.Equal(t, []Record{{2, []byte("b")}, {3, []byte("c")}, {4, []byte("d")}}, p.records)
}

func TestCache_ManualSynchronize(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	c := New(Options[string]{Persister: p, Codec: stringCodec{}})

	_, _ = c.PutAll(ctx, []string{"a", "b"})
	require.NoError(t, c.Remove(ctx, 1))
	assert.Zero(t, p.saves)

	require.NoError(t, c.Synchronize(ctx))
	assert.Equal(t, 1, p.saves)
	assert.Equal(t, []Record{{2, []byte("b")}}, p.records)
}

func TestCache_DurabilityFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{failing: true}
	c := New(Options[string]{Persisted: true, Persister: p, Codec: stringCodec{}})

	id, err := c.Put(ctx, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDurability)
	assert.Equal(t, uint64(1), id)
	v, ok := c.Get(id)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	assert.ErrorIs(t, c.Clear(ctx), ErrDurability)
	assert.Zero(t, c.Len())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("restores order and ids", func(t *testing.T) {
		p := &memPersister{found: true, version: 1, records: []Record{
			{7, []byte("g")}, {3, []byte("c")}, {5, []byte("corrupt")},
		}}
		c, err := Open(ctx, Options[string]{Version: 1, Persister: p, Codec: stringCodec{}})
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 7}, c.IDs())
		id, err := c.Put(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, uint64(8), id)
	})

	t.Run("version mismatch starts empty", func(t *testing.T) {
		p := &memPersister{found: true, version: 1, records: []Record{{1, []byte("a")}}}
		c, err := Open(ctx, Options[string]{Version: 2, Persister: p, Codec: stringCodec{}})
		require.NoError(t, err)
		assert.Zero(t, c.Len())
	})

	t.Run("applies capacity", func(t *testing.T) {
		p := &memPersister{found: true, records: []Record{{1, []byte("a")}, {2, []byte("b")}}}
		var evicted []string
		c, err := Open(ctx, Options[string]{Capacity: 1, Persister: p, Codec: stringCodec{},
			OnEvict: func(_ uint64, v string) { evicted = append(evicted, v) }})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, values(c))
		assert.Equal(t, []string{"a"}, evicted)
	})

	t.Run("no persister", func(t *testing.T) {
		c, err := Open[string](ctx, Options[string]{})
		require.NoError(t, err)
		assert.Zero(t, c.Len())
	})
}

func TestCache_ClearDeletesDurableCopy(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	c := New(Options[string]{Persisted: true, Persister: p, Codec: stringCodec{}})
	_, _ = c.Put(ctx, "a")

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 1, p.deletes)
	assert.False(t, p.found)
	assert.Zero(t, c.Len())

	id, _ := c.Put(ctx, "b")
	assert.Equal(t, uint64(2), id, "ids are never reused")
}

func TestCache_AllSkipsRemovedDuringIteration(t *testing.T) {
	ctx := context.Background()
	c := New(Options[string]{})
	_, _ = c.PutAll(ctx, []string{"a", "b", "c"})

	var seen []string
	for id, v := range c.All() {
		seen = append(seen, v)
		if id == 1 {
			_ = c.Remove(ctx, 2)
		}
	}
	assert.Equal(t, []string{"a", "c"}, seen)
}

func TestSnapshot(t *testing.T) {
	var s Snapshot[[]string]
	v, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, v)

	s.Store([]string{"x"})
	v, ok = s.Load()
	assert.True(t, ok)
	assert.Equal(t, []string{"x"}, v)
}
