package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/pong-arena-backend/internal/config"
	"github.com/DoyleJ11/pong-arena-backend/internal/engine"
	"github.com/DoyleJ11/pong-arena-backend/internal/httpapi"
	"github.com/DoyleJ11/pong-arena-backend/internal/hub"
	"github.com/DoyleJ11/pong-arena-backend/internal/logging"
	"github.com/DoyleJ11/pong-arena-backend/internal/scheduler"
	"github.com/DoyleJ11/pong-arena-backend/internal/storage"
	"github.com/DoyleJ11/pong-arena-backend/internal/tournament"
	"github.com/DoyleJ11/pong-arena-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DBDriver, cfg.DatabaseURL, log.Named("storage"))
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return multierr.Append(err, store.Close())
	}

	sched := scheduler.New(ctx, cfg.TickHz, scheduler.WithLogger(log.Named("scheduler")))
	dispatcher := hub.New(sched, store, hub.Config{
		Rules:          engine.Rules{ScoreLimit: cfg.ScoreLimit},
		FinishGrace:    cfg.FinishGrace,
		ReapInterval:   cfg.ReapInterval,
		PersistTimeout: cfg.PersistTimeout,
		Logger:         log.Named("dispatcher"),
	})
	orch := tournament.New(store.DB(), dispatcher, tournament.WithLogger(log.Named("tournament")))
	dispatcher.OnMatchEnd(orch.MatchFinished)
	if err := dispatcher.Start(ctx); err != nil {
		return multierr.Combine(err, store.Close())
	}

	handler := httpapi.SetupRoutes(dispatcher, orch, ws.Options{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		OutboxSize:   cfg.OutboxSize,
		Logger:       log.Named("ws"),
	}, log)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.Float64("tick_hz", cfg.TickHz))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// listener, then matches, then tick loops, then the database
		err := srv.Shutdown(shutdownCtx)
		err = multierr.Append(err, dispatcher.Stop())
		sched.Stop()
		return multierr.Append(err, store.Close())
	})
	return g.Wait()
}
