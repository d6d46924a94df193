package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lukasbauer/dictate/internal/eventlog"
	"github.com/lukasbauer/dictate/internal/metrics"
	"github.com/lukasbauer/dictate/internal/realtime"
	"github.com/lukasbauer/dictate/internal/transcript"
)

var (
	// ErrMissingCredential means no realtime API key is configured.
	ErrMissingCredential = errors.New("OPENAI_API_KEY is missing")

	// ErrUpstreamConnect wraps any failure to open and configure the upstream.
	ErrUpstreamConnect = errors.New("OpenAI connection failed")
)

// Config holds the process-wide settings every session is built from.
type Config struct {
	APIKey  string
	Session realtime.SessionConfig

	// CommitDrain is how long the translator may keep delivering trailing
	// transcripts after the client sent the stop marker. Zero cancels it
	// immediately.
	CommitDrain time.Duration
}

// Supervisor creates and runs sessions.
type Supervisor struct {
	cfg     Config
	dial    DialFunc
	logger  *log.Logger
	metrics *metrics.Metrics
	events  *eventlog.Logger
}

// NewSupervisor creates a Supervisor. metrics and events may be nil.
func NewSupervisor(cfg Config, dial DialFunc, logger *log.Logger, m *metrics.Metrics, events *eventlog.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		dial:    dial,
		logger:  logger,
		metrics: m,
		events:  events,
	}
}

// Summary describes a finished session.
type Summary struct {
	ID        string
	RawText   string // accumulated final transcript
	Fragments int
	Duration  time.Duration

	// Err is set only for session-fatal failures: ErrMissingCredential or
	// an error wrapping ErrUpstreamConnect.
	Err error
}

// session is the state of one client connection.
type session struct {
	id       string
	client   ClientConn
	upstream Upstream
	acc      transcript.Accumulator
	drain    time.Duration

	logger  *log.Logger
	metrics *metrics.Metrics
	events  *eventlog.Logger
}

// Run drives one client connection until both loops have stopped. Both the
// client connection and the upstream connection are closed when it returns.
func (s *Supervisor) Run(ctx context.Context, client ClientConn) Summary {
	start := time.Now()
	sum := Summary{ID: uuid.NewString()}

	clientCloser := &onceCloser{c: client}
	defer clientCloser.Close()

	if s.cfg.APIKey == "" {
		s.logger.Printf("relay: session %s rejected: %v", sum.ID, ErrMissingCredential)
		s.metrics.SessionRejected("missing_credential")
		s.events.LogAsync(sum.ID, eventlog.EventSessionRejected, map[string]any{"reason": "missing_credential"})
		sendError(client, ErrMissingCredential.Error())
		sum.Err = ErrMissingCredential
		return sum
	}

	upstream, err := s.connect(ctx)
	if err != nil {
		s.logger.Printf("relay: session %s: upstream connect failed: %v", sum.ID, err)
		s.metrics.SessionRejected("connect_failed")
		s.events.LogAsync(sum.ID, eventlog.EventUpstreamConnectFailed, map[string]any{"error": err.Error()})
		sendError(client, fmt.Sprintf("%v: %v", ErrUpstreamConnect, err))
		sum.Err = fmt.Errorf("%w: %w", ErrUpstreamConnect, err)
		return sum
	}
	upstreamCloser := &onceCloser{c: upstream}
	defer upstreamCloser.Close()

	s.metrics.SessionOpened()
	s.events.LogAsync(sum.ID, eventlog.EventSessionStarted, nil)
	s.logger.Printf("relay: session %s started", sum.ID)

	sess := &session{
		id:       sum.ID,
		client:   client,
		upstream: upstream,
		drain:    s.cfg.CommitDrain,
		logger:   s.logger,
		metrics:  s.metrics,
		events:   s.events,
	}
	sess.run(ctx, clientCloser, upstreamCloser)

	sum.RawText = sess.acc.Text()
	sum.Fragments = sess.acc.Fragments()
	sum.Duration = time.Since(start)

	s.metrics.SessionClosed(sum.Duration.Seconds())
	s.events.LogAsync(sum.ID, eventlog.EventSessionEnded, map[string]any{
		"fragments":   sum.Fragments,
		"text_length": len(sum.RawText),
		"duration_ms": sum.Duration.Milliseconds(),
	})
	s.logger.Printf("relay: session %s ended after %s (%d fragments)", sum.ID, sum.Duration.Round(time.Millisecond), sum.Fragments)

	return sum
}

// connect dials the upstream and sends the session configuration.
func (s *Supervisor) connect(ctx context.Context) (Upstream, error) {
	upstream, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := upstream.UpdateSession(s.cfg.Session); err != nil {
		_ = upstream.Close()
		return nil, fmt.Errorf("send session.update: %w", err)
	}
	return upstream, nil
}

// run starts the forwarder and translator and resolves the race between them.
// The first loop to finish wins and the other is cancelled; when the forwarder
// finished on the stop marker the translator first gets the commit drain
// window to deliver transcripts for the committed audio.
func (s *session) run(parent context.Context, client, upstream *onceCloser) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	results := make(chan loopResult, 2)
	go func() { results <- s.forward(ctx) }()
	go func() { results <- s.translate(ctx) }()

	pending := 2
	var first loopResult
	select {
	case first = <-results:
		pending--
		s.logExit(first)
	case <-ctx.Done():
		s.logger.Printf("relay: session %s cancelled: %v", s.id, ctx.Err())
	}

	if first.loop == loopForwarder && first.reason == exitStopMarker && s.drain > 0 {
		timer := time.NewTimer(s.drain)
		select {
		case r := <-results:
			pending--
			s.logExit(r)
		case <-timer.C:
			s.logger.Printf("relay: session %s: commit drain of %s elapsed", s.id, s.drain)
		case <-ctx.Done():
		}
		timer.Stop()
	}

	// Closing unblocks whichever loop is still parked in a read or write.
	cancel()
	upstream.Close()
	client.Close()

	for ; pending > 0; pending-- {
		s.logExit(<-results)
	}
}

func (s *session) logExit(r loopResult) {
	if r.err != nil && r.reason == exitFailed {
		s.logger.Printf("relay: session %s: %s failed: %v", s.id, r.loop, r.err)
		return
	}
	s.logger.Printf("relay: session %s: %s stopped (%s)", s.id, r.loop, r.reason)
}

// sendError writes a single error frame, ignoring failures; the client
// connection is closed right after.
func sendError(client ClientConn, message string) {
	_ = client.WriteJSON(errorFrame{Type: frameError, Message: message})
}

// Loop outcomes.

type loopName string

const (
	loopForwarder  loopName = "forwarder"
	loopTranslator loopName = "translator"
)

type exitReason int

const (
	exitCancelled exitReason = iota
	exitStopMarker
	exitClientGone
	exitUpstreamGone
	exitFailed
)

func (r exitReason) String() string {
	switch r {
	case exitCancelled:
		return "cancelled"
	case exitStopMarker:
		return "stop marker"
	case exitClientGone:
		return "client gone"
	case exitUpstreamGone:
		return "upstream closed"
	case exitFailed:
		return "failed"
	default:
		return fmt.Sprintf("exitReason(%d)", int(r))
	}
}

type loopResult struct {
	loop   loopName
	reason exitReason
	err    error
}
