// Package app wires the database, store, engine and scheduler into one
// runtime context shared by the CLI and the API server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cradle/internal/config"
	"cradle/internal/db"
	"cradle/internal/delivery"
	"cradle/internal/engine"
	"cradle/internal/events"
	"cradle/internal/migrate"
	"cradle/internal/scheduler"
	"cradle/internal/store"
)

// App holds everything a command needs after bootstrap.
type App struct {
	DB        *sql.DB
	Config    *config.Config
	Store     *store.Store
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
}

// Open bootstraps the workspace: opens and migrates the database,
// loads optional config, hydrates the store and builds the engine and
// scheduler. A missing cradle.yml falls back to defaults.
func Open(ctx context.Context, workspace string) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	st, err := store.Open(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ev := events.Writer{DB: conn, Now: time.Now}
	eng := engine.New(st, ev, cfg)
	if cfg.Delivery.URL != "" {
		eng.Gateway = delivery.NewWebhook(cfg.Delivery.URL, cfg.Delivery.Secret, cfg.DeliveryTimeout())
	}

	sched := scheduler.New(st, cfg.TickInterval(), cfg.Scheduler.FeedBuffer).WithEvents(ev)
	eng.Feed = sched

	return &App{
		DB:        conn,
		Config:    cfg,
		Store:     st,
		Engine:    eng,
		Scheduler: sched,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
