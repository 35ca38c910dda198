// Package server wires the engine, its payload sources and the HTTP API
// into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"reach-engine/internal/api"
	"reach-engine/internal/cache"
	"reach-engine/internal/config"
	"reach-engine/internal/engine"
	"reach-engine/internal/feedback"
	"reach-engine/internal/listener"
	"reach-engine/internal/presenter"
	"reach-engine/internal/spool"
	"reach-engine/internal/storage"
)

// App is a wired engine with its collaborators. Start runs the
// background parts, Shutdown stops them and writes the cache.
type App struct {
	cfg config.Config

	Engine     *engine.Engine
	Loop       *engine.Loop
	Inbox      *presenter.Inbox
	Handler    *api.Handler
	Router     http.Handler
	dispatcher *feedback.Dispatcher
	store      *storage.Store
	persister  *storage.SQLitePersister
	spool      *spool.Watcher

	cancel   context.CancelFunc
	stopLoop context.CancelFunc
}

// Build opens storage and the engine. Nothing runs until Start.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// Storage
	var persister cache.Persister
	if cfg.Cache.Path != "" {
		compression, err := storage.ParseCompression(cfg.Cache.Compression)
		if err != nil {
			return nil, err
		}
		a.persister, err = storage.OpenSQLite(cfg.Cache.Path, compression)
		if err != nil {
			return nil, fmt.Errorf("init cache storage: %w", err)
		}
		persister = a.persister
	}

	var sink feedback.Sink = feedback.LogSink{Logger: log.Logger}
	if cfg.PostgresEnabled() {
		a.store, err = storage.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := a.store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sink = a.store
	}
	a.dispatcher = feedback.NewDispatcher(sink, cfg.Feedback.Buffer, log.Logger.With().Str("component", "feedback").Logger())

	// Engine
	a.Engine, err = engine.Open(ctx, engine.Options{
		MaxCampaigns:  cfg.Engine.MaxCampaigns,
		DeviceID:      cfg.Engine.DeviceID,
		Params:        cfg.Engine.Params,
		CacheName:     cfg.Cache.Name,
		CacheVersion:  cfg.Cache.Version,
		CacheCapacity: cfg.Cache.Capacity,
		Persisted:     cfg.Cache.Persisted && persister != nil,
		Persister:     persister,
		Feedback:      a.dispatcher,
		Logger:        log.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.Inbox = presenter.NewInbox(log.Logger)
	a.Engine.RegisterPresenter("", a.Inbox)
	a.Engine.RegisterReceiver("", presenter.NewAckReceiver(log.Logger))
	a.Loop = engine.NewLoop(cfg.Engine.QueueSize)

	// HTTP
	a.Handler = api.NewHandler(a.Loop, a.Engine, a.Inbox)
	a.Router = api.Router(a.Handler)

	if cfg.Spool.Dir != "" {
		a.spool, err = spool.New(cfg.Spool.Dir, a.Handler.Ingest, log.Logger)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Start runs the engine loop, the feedback dispatcher and the payload
// sources, then scans what the cache restored.
func (a *App) Start(ctx context.Context) error {
	// the loop outlives the sources so that Shutdown can still sync
	loopCtx, stopLoop := context.WithCancel(context.Background())
	a.stopLoop = stopLoop
	go a.Loop.Run(loopCtx)
	go a.dispatcher.Run(context.Background())

	ctx, a.cancel = context.WithCancel(ctx)
	if a.store != nil {
		go listener.ListenAndIngest(ctx, a.store, a.Handler.Ingest, a.cfg.Listener.Channel, a.cfg.Backoff())
	}
	if a.spool != nil {
		go a.spool.Run(ctx)
	}

	var err error
	if doErr := a.Loop.Do(ctx, func() { err = a.Engine.Scan(ctx) }); doErr != nil {
		return doErr
	}
	if err != nil && !errors.Is(err, cache.ErrDurability) {
		return err
	}
	return nil
}

// Shutdown stops the payload sources, writes the cache and flushes
// pending feedback.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	var err error
	if a.stopLoop != nil {
		if doErr := a.Loop.Do(ctx, func() { err = a.Engine.Synchronize(ctx) }); doErr != nil {
			err = doErr
		}
		a.stopLoop()
		<-a.Loop.Done()
		a.dispatcher.Close()
	}
	a.close()
	return err
}

func (a *App) close() {
	if a.persister != nil {
		if err := a.persister.Close(); err != nil {
			log.Error().Err(err).Msg("close cache storage")
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config) error {
	a, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Server goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown...")
	case err = <-serveErr:
		log.Error().Err(err).Msg("server crashed")
	}

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	if shErr := a.Shutdown(shCtx); shErr != nil {
		log.Error().Err(shErr).Msg("content cache not written on shutdown")
	}
	return err
}
