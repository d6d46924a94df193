package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/dictate/internal/eventlog"
	"github.com/lukasbauer/dictate/internal/httpapi"
	"github.com/lukasbauer/dictate/internal/metrics"
	"github.com/lukasbauer/dictate/internal/realtime"
	"github.com/lukasbauer/dictate/internal/relay"
	"github.com/lukasbauer/dictate/internal/revise"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool // nil when DATABASE_URL is unset
	eventLog *eventlog.Logger
	metrics  *metrics.Metrics
	sessions *relay.Supervisor
	reviser  *revise.Service
	tracker  *httpapi.SessionTracker

	// baseCtx parents every request context, hijacked websockets included,
	// so cancelling it ends sessions that outlive the shutdown timeout.
	baseCtx        context.Context
	cancelSessions context.CancelFunc
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		db = pool
		// Migrations are applied externally (psql -f migrations/*.sql).
		logger.Printf("event log enabled")
	}

	if cfg.OpenAIAPIKey == "" {
		logger.Printf("OPENAI_API_KEY is not set; sessions and revisions will be refused")
	}

	m := metrics.New()
	el := eventlog.New(db)

	sessions := relay.NewSupervisor(
		relay.Config{
			APIKey: cfg.OpenAIAPIKey,
			Session: realtime.SessionConfig{
				TranscriptionModel: cfg.TranscriptionModel,
				Language:           cfg.Language,
			},
			CommitDrain: cfg.CommitDrainTimeout,
		},
		relay.RealtimeDialer(realtime.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.RealtimeModel,
			URL:    cfg.RealtimeURL,
		}),
		logger, m, el,
	)

	reviser := revise.New(revise.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.ReviseModel,
		BaseURL: cfg.OpenAIBaseURL,
	})

	baseCtx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		eventLog:       el,
		metrics:        m,
		sessions:       sessions,
		reviser:        reviser,
		tracker:        httpapi.NewSessionTracker(),
		baseCtx:        baseCtx,
		cancelSessions: cancel,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		StaticDir: a.cfg.StaticDir,
		JWTSecret: a.cfg.JWTSecret,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.sessions, a.reviser, a.tracker, a.metrics, a.eventLog)
}

// BaseContext is the parent of every request context.
func (a *App) BaseContext() context.Context {
	return a.baseCtx
}

// Drain refuses new sessions and waits for live ones to finish. When ctx
// ends first the remaining sessions are cancelled and Drain returns ctx.Err()
// once they have torn down.
func (a *App) Drain(ctx context.Context) error {
	a.tracker.StartDraining()
	a.logger.Printf("draining %d active sessions", a.tracker.ActiveCount())

	done := make(chan struct{})
	go func() {
		a.tracker.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.logger.Printf("shutdown timeout, cancelling %d sessions", a.tracker.ActiveCount())
		a.cancelSessions()
		<-done
		return ctx.Err()
	}
}

func (a *App) Close() error {
	a.cancelSessions()
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
