package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reach-engine/internal/observability"
)

const sendTimeout = 5 * time.Second

// Dispatcher queues feedback and sends it from its own goroutine, so the
// submitter never waits on the sink.
type Dispatcher struct {
	sink   Sink
	queue  chan Feedback
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher returns a dispatcher holding up to buffer pending reports.
func NewDispatcher(sink Sink, buffer int, logger zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{
		sink:   sink,
		queue:  make(chan Feedback, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Submit queues f. It reports false when the queue is full or the
// dispatcher is closed; f is then dropped.
func (d *Dispatcher) Submit(f Feedback) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- f:
		return true
	default:
		observability.FeedbackTotal.WithLabelValues(f.Status, "dropped").Inc()
		d.logger.Warn().Str("content_id", f.ContentID).Str("status", f.Status).Msg("feedback queue full, dropping")
		return false
	}
}

// Run sends queued feedback until Close is called, then flushes what is
// left. Cancelling ctx aborts the flush.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case f, ok := <-d.queue:
			if !ok {
				return
			}
			d.send(ctx, f)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting feedback and waits for Run to flush. It must only
// be called once Run has been started.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) send(ctx context.Context, f Feedback) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := d.sink.Send(ctx, f); err != nil {
		observability.FeedbackTotal.WithLabelValues(f.Status, "failed").Inc()
		d.logger.Error().Err(err).Str("content_id", f.ContentID).Str("status", f.Status).Msg("send feedback")
		return
	}
	observability.FeedbackTotal.WithLabelValues(f.Status, "sent").Inc()
}
