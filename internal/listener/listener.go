// Package listener feeds payloads published on a Postgres NOTIFY channel
// into the engine.
package listener

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"reach-engine/internal/storage"
)

// IngestFunc hands one payload to the engine.
type IngestFunc func(ctx context.Context, payload []byte) error

// ListenAndIngest listens on channel and ingests every notification
// payload. Lost connections are re-established after a jittered backoff.
// It returns when ctx is cancelled.
func ListenAndIngest(ctx context.Context, st *storage.Store, ingest IngestFunc, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for {
		err := listen(ctx, st, ingest, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("notify wait error")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		}
	}
}

func listen(ctx context.Context, st *storage.Store, ingest IngestFunc, channel string) error {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn for listen: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	log.Info().Str("channel", channel).Msg("listening for payloads")

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// the connection state is unknown after a failed wait
			_ = conn.Conn().Close(context.Background())
			return err
		}
		handle(ctx, ntf, ingest)
	}
}

func handle(ctx context.Context, ntf *pgconn.Notification, ingest IngestFunc) {
	if ntf.Payload == "" {
		log.Warn().Str("channel", ntf.Channel).Msg("empty notification payload")
		return
	}
	err := ingest(ctx, []byte(ntf.Payload))
	switch {
	case err == nil:
		log.Debug().Str("channel", ntf.Channel).Uint32("pid", ntf.PID).Msg("payload ingested")
	case errors.Is(err, context.Canceled):
	default:
		log.Error().Err(err).Str("channel", ntf.Channel).Msg("ingest notification payload")
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x–1.5x
	return time.Duration(float64(base) * factor)
}
