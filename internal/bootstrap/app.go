// Package bootstrap is the composition root: it constructs the store,
// lock client, dispatcher, runner and admin API once at boot and owns
// their lifecycle. No component is reachable through package-level state.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/config"
	"github.com/nextlevelbuilder/chrono/internal/cron"
	chronohttp "github.com/nextlevelbuilder/chrono/internal/http"
	"github.com/nextlevelbuilder/chrono/internal/lock"
	"github.com/nextlevelbuilder/chrono/internal/scheduler"
	"github.com/nextlevelbuilder/chrono/internal/store/pg"
	"github.com/nextlevelbuilder/chrono/internal/tracing"
)

// shutdownTimeout bounds graceful drain of the admin API.
const shutdownTimeout = 10 * time.Second

// App holds the wired process components.
type App struct {
	cfg        *config.Config
	db         *sqlx.DB
	locker     *lock.RedisLocker
	dispatcher *scheduler.Dispatcher
	recovery   *scheduler.Recovery
	server     *chronohttp.Server
	traceStop  func(context.Context) error
}

// New builds the full component graph: Postgres store (schema migrated),
// Redis locker, cron evaluator, dispatcher, runner and admin API.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	traceStop, err := tracing.Setup(ctx, tracing.Config{
		Endpoint: cfg.OTELEndpoint,
		Protocol: cfg.OTELProtocol,
		Insecure: cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	db, err := pg.OpenDB(cfg.DBURL)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	locker, err := lock.Open(ctx, cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	clk := clock.System{}
	eval := cron.New()
	taskStore := pg.New(db, clk)

	dispatcher := scheduler.NewDispatcher(clk, eval, cfg.FireWorkers)
	runner := scheduler.NewRunner(taskStore, locker, eval, clk, dispatcher, nil)
	runner.LockTTL = cfg.LockTTL
	runner.LockWait = cfg.LockWait
	dispatcher.SetOnFire(runner.Fire)

	recovery := scheduler.NewRecovery(taskStore, dispatcher, eval, clk, cfg.RecoverPastTasks)

	tasks := chronohttp.NewTasksHandler(taskStore, dispatcher, eval, clk)
	server := chronohttp.NewServer(cfg.ListenAddr, tasks, cfg.RateLimitRPM)

	return &App{
		cfg:        cfg,
		db:         db,
		locker:     locker,
		dispatcher: dispatcher,
		recovery:   recovery,
		server:     server,
		traceStop:  traceStop,
	}, nil
}

// Run recovers persisted tasks, starts the dispatcher, then serves the
// admin API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.recovery.Run(ctx); err != nil {
		return err
	}
	a.dispatcher.Start()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		a.shutdown()
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		a.shutdown()
		return nil
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	a.dispatcher.Stop()
	if err := a.locker.Close(); err != nil {
		slog.Error("redis close failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Error("postgres close failed", "error", err)
	}
	if err := a.traceStop(ctx); err != nil {
		slog.Error("trace exporter shutdown failed", "error", err)
	}
}
