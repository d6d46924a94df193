package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/dictate/internal/eventlog"
	"github.com/lukasbauer/dictate/internal/metrics"
	"github.com/lukasbauer/dictate/internal/relay"
)

type RouterConfig struct {
	// Directory holding index.html and other browser assets.
	StaticDir string

	// JWT authentication (disabled when empty)
	JWTSecret string
}

// Reviser applies edit commands to a raw transcript.
type Reviser interface {
	Revise(ctx context.Context, rawText string, commands []string) (string, error)
}

// SessionRunner runs one relay session on an accepted websocket.
type SessionRunner interface {
	Run(ctx context.Context, client relay.ClientConn) relay.Summary
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	sessions SessionRunner
	reviser  Reviser
	tracker  *SessionTracker
	metrics  *metrics.Metrics
	eventLog *eventlog.Logger
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, sessions SessionRunner, reviser Reviser, tracker *SessionTracker, m *metrics.Metrics, eventLog *eventlog.Logger) http.Handler {
	if tracker == nil {
		tracker = NewSessionTracker()
	}

	r := &Router{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		reviser:  reviser,
		tracker:  tracker,
		metrics:  m,
		eventLog: eventLog,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics.Handler())
	}

	// Dictation
	r.mux.HandleFunc("GET /ws", r.withAuth(r.handleSessionWS))
	r.mux.HandleFunc("POST /revise", r.withAuth(r.handleRevise))

	// Browser client
	r.mux.HandleFunc("GET /{$}", r.handleIndex)
	r.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(r.cfg.StaticDir))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if r.tracker.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	http.ServeFile(w, req, filepath.Join(r.cfg.StaticDir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
