package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"histsync/internal/config"
	"histsync/internal/database"
	"histsync/internal/histsync"
	"histsync/internal/model"
	"histsync/internal/remote"
)

// App is the application layer between the CLI and the sync service.
// It constructs all dependencies from config, exposes the operations the
// commands need and releases every resource on Close.
type App struct {
	cfg     *config.Config
	store   *database.Store
	remote  *remote.Client
	service *histsync.Service
	op      *Operation
	log     *slog.Logger
	logFile *os.File
}

// New creates a fully wired App from the given config.
// operation names the CLI command being run (e.g. "histories", "poll").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("no user_id configured")
	}

	rc, err := remote.NewRemoteFromConfig(cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("creating remote: %w", err)
	}

	op := NewOperation(operation, time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, slog.LevelInfo)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	store, err := database.NewStoreFromConfig(ctx, cfg.Store, cfg.UserID, database.Options{Logger: adapter})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("store schema out of date: %w", err)
	}

	svc := histsync.NewService(store, rc, histsync.Options{
		Logger:       adapter,
		PageSize:     cfg.Loader.PageSize,
		PollInterval: cfg.Poll.Interval.Duration,
	})

	logger.Debug("operation started", "operation", op.Name, "remote", rc.BaseURL(), "store", store.Path())
	return &App{
		cfg:     cfg,
		store:   store,
		remote:  rc,
		service: svc,
		op:      op,
		log:     logger,
		logFile: logFile,
	}, nil
}

// Service exposes the wired sync service.
func (a *App) Service() *histsync.Service { return a.service }

// Histories refreshes the configured user's histories from the server and
// returns the cached list, most recently updated first.
func (a *App) Histories(ctx context.Context) ([]*model.History, error) {
	list, err := a.service.Histories().Refresh(ctx, a.cfg.UserID)
	return list, a.track(err)
}

// Contents loads the window described by params unless offline is set, then
// returns the cached content matching it.
func (a *App) Contents(ctx context.Context, params histsync.SearchParams, offline bool) ([]*model.Content, error) {
	if !offline {
		res, err := a.service.LoadContent(ctx, params)
		if err != nil {
			return nil, a.track(fmt.Errorf("loading content: %w", err))
		}
		a.log.Debug("content loaded", "history_id", params.HistoryID, "requests", res.Requests, "cached", res.Cached)
	}
	list, err := a.service.FindContent(ctx, params)
	return list, a.track(err)
}

// Poll opens a live content session for params and hands every emission to
// fn until ctx is done, which ends the watch without error. Polling is skipped when the config disables it.
func (a *App) Poll(ctx context.Context, params histsync.SearchParams, fn func([]*model.Content)) error {
	cs, err := a.service.OpenContent(ctx, params, fn, histsync.LoaderOptions{
		SuppressPolling: a.cfg.Poll.Disabled,
	})
	if err != nil {
		return a.track(err)
	}
	a.log.Info("watching content", "session", cs.ID(), "history_id", params.HistoryID)

	<-ctx.Done()
	cs.Close()
	cs.Wait()
	return nil
}

// Wipe drops every cached record and poll marker.
func (a *App) Wipe(ctx context.Context) error {
	return a.track(a.store.Wipe(ctx))
}

// track marks the operation failed when err is non-nil.
func (a *App) track(err error) error {
	if err != nil {
		a.op.Fail()
	}
	return err
}

// Close stops the service, logs the operation's outcome and closes the
// store and the log file.
func (a *App) Close() error {
	var firstErr error

	a.service.Close()
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
		a.op.Fail()
	}

	a.log.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", a.op.Elapsed(time.Now()))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
