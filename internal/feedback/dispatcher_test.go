package feedback

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reach-engine/internal/content"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []Feedback
	fail bool
}

func (s *recordingSink) Send(_ context.Context, f Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("backend down")
	}
	s.got = append(s.got, f)
	return nil
}

func (s *recordingSink) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.got {
		out = append(out, f.Status)
	}
	return out
}

func TestDispatcher_SendsInOrderAndFlushesOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, zerolog.Nop())
	go d.Run(context.Background())

	for _, s := range []string{StatusContentDisplayed, StatusContentActioned, StatusDropped} {
		require.True(t, d.Submit(Feedback{ContentID: "a", Status: s}))
	}
	d.Close()

	assert.Equal(t, []string{StatusContentDisplayed, StatusContentActioned, StatusDropped}, sink.statuses())
	assert.False(t, d.Submit(Feedback{Status: StatusDropped}), "closed dispatcher refuses")
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := SinkFunc(func(ctx context.Context, _ Feedback) error {
		<-block
		return nil
	})
	d := NewDispatcher(sink, 1, zerolog.Nop())
	go d.Run(context.Background())

	require.True(t, d.Submit(Feedback{Status: "first"}))
	// wait for Run to pick up the first report so the buffer is empty again
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, d.Submit(Feedback{Status: "second"}))
	assert.False(t, d.Submit(Feedback{Status: "third"}))

	close(block)
	d.Close()
}

func TestDispatcher_SinkErrorsDoNotStopDelivery(t *testing.T) {
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, 4, zerolog.Nop())
	go d.Run(context.Background())

	d.Submit(Feedback{Status: StatusDropped})
	d.Close()
	assert.Empty(t, sink.statuses())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: zerolog.New(&buf)}
	err := s.Send(context.Background(), Feedback{
		Kind:      content.KindPoll,
		ContentID: "p1",
		Status:    StatusContentActioned,
		Extras:    map[string]string{"q1": "c2"},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"content_id":"p1"`)
	assert.Contains(t, buf.String(), `"extras":{"q1":"c2"}`)
	assert.Contains(t, buf.String(), `"kind":"poll"`)
}
