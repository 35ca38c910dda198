// Package spool ingests payload files dropped into a directory.
//
// Producers must write a payload under a temporary name and rename it to
// *.xml once complete. Each ingested file is removed; a malformed one is
// renamed to *.xml.rejected.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"reach-engine/internal/markup"
)

const (
	payloadExt  = ".xml"
	rejectedExt = ".rejected"
)

// IngestFunc hands one payload to the engine.
type IngestFunc func(ctx context.Context, payload []byte) error

// Watcher feeds spool files to an IngestFunc.
type Watcher struct {
	dir      string
	ingest   IngestFunc
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	interval time.Duration
}

// New creates dir if needed and starts watching it.
func New(dir string, ingest IngestFunc, logger zerolog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create spool watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		ingest:   ingest,
		watcher:  fsw,
		logger:   logger.With().Str("component", "spool").Str("dir", dir).Logger(),
		interval: 2 * time.Second,
	}, nil
}

// Run ingests the files already present, then every new one, until ctx
// is cancelled. A periodic sweep picks up files whose events were lost.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	w.sweep(ctx, 0)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("spool watcher stopped")
			return
		case <-ticker.C:
			w.sweep(ctx, w.interval)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 && isPayload(ev.Name) {
				w.process(ctx, ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("spool watch error")
		}
	}
}

// sweep processes payload files not modified within minAge, in name
// order.
func (w *Watcher) sweep(ctx context.Context, minAge time.Duration) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error().Err(err).Msg("read spool dir")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isPayload(entry.Name()) {
			continue
		}
		if minAge > 0 {
			info, err := entry.Info()
			if err != nil || time.Since(info.ModTime()) < minAge {
				continue
			}
		}
		w.process(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return // already handled
	}
	if err != nil {
		w.logger.Error().Err(err).Str("file", path).Msg("read spool file")
		return
	}

	err = w.ingest(ctx, data)
	switch {
	case err == nil:
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Error().Err(err).Str("file", path).Msg("remove spool file")
			return
		}
		w.logger.Debug().Str("file", path).Msg("spool file ingested")
	case errors.Is(err, markup.ErrMalformed):
		w.logger.Warn().Err(err).Str("file", path).Msg("rejecting malformed spool file")
		if err := os.Rename(path, path+rejectedExt); err != nil {
			w.logger.Error().Err(err).Str("file", path).Msg("reject spool file")
		}
	default:
		// left in place for the next sweep
		w.logger.Error().Err(err).Str("file", path).Msg("ingest spool file")
	}
}

func isPayload(name string) bool {
	return strings.EqualFold(filepath.Ext(name), payloadExt)
}
