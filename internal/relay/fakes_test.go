package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/dictate/internal/realtime"
)

type clientMsg struct {
	typ  int
	data []byte
}

func binaryMsg(b ...byte) clientMsg { return clientMsg{typ: websocket.BinaryMessage, data: b} }
func textMsg(s string) clientMsg    { return clientMsg{typ: websocket.TextMessage, data: []byte(s)} }

// fakeClient stands in for the browser websocket. Closing in simulates a
// client disconnect.
type fakeClient struct {
	in      chan clientMsg
	written chan map[string]any

	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		in:      make(chan clientMsg, 32),
		written: make(chan map[string]any, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeClient) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway}
		}
		return m.typ, m.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeClient) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.written <- m
	return nil
}

func (c *fakeClient) Close() error {
	c.closeCalls.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// frames drains everything written so far.
func (c *fakeClient) frames() []map[string]any {
	var out []map[string]any
	for {
		select {
		case m := <-c.written:
			out = append(out, m)
		default:
			return out
		}
	}
}

type upstreamRead struct {
	ev  realtime.Event
	err error
}

// fakeUpstream stands in for the realtime connection. Closing reads
// simulates the service ending the stream.
type fakeUpstream struct {
	reads chan upstreamRead
	sent  chan string

	appendErr error

	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		reads:  make(chan upstreamRead, 32),
		sent:   make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (u *fakeUpstream) UpdateSession(cfg realtime.SessionConfig) error {
	return u.record(realtime.TypeSessionUpdate)
}

func (u *fakeUpstream) AppendAudio(audio []byte) error {
	if u.appendErr != nil {
		return u.appendErr
	}
	return u.record(realtime.TypeAudioAppend)
}

func (u *fakeUpstream) Commit() error {
	return u.record(realtime.TypeAudioCommit)
}

func (u *fakeUpstream) record(kind string) error {
	select {
	case <-u.closed:
		return realtime.ErrClosed
	default:
	}
	u.sent <- kind
	return nil
}

func (u *fakeUpstream) ReadEvent() (realtime.Event, error) {
	select {
	case r, ok := <-u.reads:
		if !ok {
			return nil, io.EOF
		}
		return r.ev, r.err
	case <-u.closed:
		return nil, net.ErrClosed
	}
}

func (u *fakeUpstream) Close() error {
	u.closeCalls.Add(1)
	u.closeOnce.Do(func() { close(u.closed) })
	return nil
}

func (u *fakeUpstream) isClosed() bool {
	select {
	case <-u.closed:
		return true
	default:
		return false
	}
}

func (u *fakeUpstream) sentKinds() []string {
	var out []string
	for {
		select {
		case k := <-u.sent:
			out = append(out, k)
		default:
			return out
		}
	}
}

func (u *fakeUpstream) emit(ev realtime.Event) {
	u.reads <- upstreamRead{ev: ev}
}

// waitSent blocks until kind has been sent upstream, returning everything
// sent up to and including it.
func (u *fakeUpstream) waitSent(t *testing.T, kind string) []string {
	t.Helper()
	var seen []string
	deadline := time.After(2 * time.Second)
	for {
		select {
		case k := <-u.sent:
			seen = append(seen, k)
			if k == kind {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s upstream; saw %v", kind, seen)
			return nil
		}
	}
}

// dialCounter returns a DialFunc handing out up (or err) and counting calls.
func dialCounter(up Upstream, err error) (DialFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (Upstream, error) {
		calls.Add(1)
		if err != nil {
			return nil, err
		}
		return up, nil
	}, &calls
}

func testSupervisor(cfg Config, dial DialFunc) *Supervisor {
	return NewSupervisor(cfg, dial, log.New(io.Discard, "", 0), nil, nil)
}

func testConfig() Config {
	return Config{
		APIKey:  "sk-test",
		Session: realtime.SessionConfig{TranscriptionModel: "gpt-4o-mini-transcribe", Language: "en"},
	}
}

// runAsync runs the supervisor in a goroutine and returns the summary channel.
func runAsync(ctx context.Context, s *Supervisor, client ClientConn) <-chan Summary {
	done := make(chan Summary, 1)
	go func() { done <- s.Run(ctx, client) }()
	return done
}

func waitSummary(t *testing.T, done <-chan Summary, within time.Duration) Summary {
	t.Helper()
	select {
	case sum := <-done:
		return sum
	case <-time.After(within):
		t.Fatalf("session did not end within %s", within)
		return Summary{}
	}
}

var errBoom = errors.New("boom")
