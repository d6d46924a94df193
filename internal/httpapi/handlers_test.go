package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/dictate/internal/metrics"
	"github.com/lukasbauer/dictate/internal/realtime"
	"github.com/lukasbauer/dictate/internal/relay"
	"github.com/lukasbauer/dictate/internal/revise"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeRunner struct {
	calls atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, client relay.ClientConn) relay.Summary {
	f.calls.Add(1)
	_ = client.Close()
	return relay.Summary{ID: "fake"}
}

type fakeReviser struct {
	calls    int
	raw      string
	commands []string
	reply    string
	err      error
}

func (f *fakeReviser) Revise(ctx context.Context, rawText string, commands []string) (string, error) {
	f.calls++
	f.raw = rawText
	f.commands = commands
	return f.reply, f.err
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestHandleRevise(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		reply       string
		err         error
		wantStatus  int
		wantRevised string
		wantError   string
		wantOutcome string
		wantCalls   int
	}{
		{
			name:        "success",
			body:        `{"raw_text":"hello command delete hello end command","commands":["delete hello"]}`,
			reply:       "  untouched reply ",
			wantStatus:  http.StatusOK,
			wantRevised: "  untouched reply ",
			wantOutcome: "ok",
			wantCalls:   1,
		},
		{
			name:        "no text",
			body:        `{"raw_text":"   ","commands":[]}`,
			err:         revise.ErrNoText,
			wantStatus:  http.StatusBadRequest,
			wantError:   "No text to revise",
			wantOutcome: "invalid",
			wantCalls:   1,
		},
		{
			name:        "missing credential",
			body:        `{"raw_text":"text","commands":[]}`,
			err:         revise.ErrMissingCredential,
			wantStatus:  http.StatusServiceUnavailable,
			wantError:   "OPENAI_API_KEY is missing",
			wantOutcome: "invalid",
			wantCalls:   1,
		},
		{
			name:        "completion failure",
			body:        `{"raw_text":"text","commands":["fix"]}`,
			err:         fmt.Errorf("Revision failed: %w", errors.New("rate limited")),
			wantStatus:  http.StatusBadGateway,
			wantError:   "Revision failed: rate limited",
			wantOutcome: "failed",
			wantCalls:   1,
		},
		{
			name:        "malformed body",
			body:        `{"raw_text":`,
			wantStatus:  http.StatusBadRequest,
			wantError:   "invalid request body",
			wantOutcome: "invalid",
			wantCalls:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			rev := &fakeReviser{reply: tt.reply, err: tt.err}
			r := &Router{logger: testLogger(), reviser: rev, metrics: m}

			req := httptest.NewRequest(http.MethodPost, "/revise", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.handleRevise(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if rev.calls != tt.wantCalls {
				t.Errorf("reviser calls = %d, want %d", rev.calls, tt.wantCalls)
			}

			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if tt.wantError != "" {
				if resp["error"] != tt.wantError {
					t.Errorf("error = %q, want %q", resp["error"], tt.wantError)
				}
				if _, ok := resp["revised_text"]; ok {
					t.Error("error response should not carry revised_text")
				}
			} else if resp["revised_text"] != tt.wantRevised {
				t.Errorf("revised_text = %q, want %q", resp["revised_text"], tt.wantRevised)
			}

			if got := testutil.ToFloat64(m.RevisionRequests.WithLabelValues(tt.wantOutcome)); got != 1 {
				t.Errorf("revision_requests{outcome=%q} = %v, want 1", tt.wantOutcome, got)
			}
		})
	}
}

func TestHandleRevise_PassesCommandsInOrder(t *testing.T) {
	rev := &fakeReviser{reply: "x"}
	r := &Router{logger: testLogger(), reviser: rev}

	body := `{"raw_text":"one two","commands":["first","second","third"]}`
	req := httptest.NewRequest(http.MethodPost, "/revise", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.handleRevise(rec, req)

	if rev.raw != "one two" {
		t.Errorf("raw = %q", rev.raw)
	}
	if strings.Join(rev.commands, ",") != "first,second,third" {
		t.Errorf("commands = %v", rev.commands)
	}
}

func TestRouter_Routes(t *testing.T) {
	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>dictate</html>"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log('hi')"), 0o600); err != nil {
		t.Fatal(err)
	}

	h := NewRouter(RouterConfig{StaticDir: staticDir}, testLogger(), &fakeRunner{}, &fakeReviser{reply: "ok"}, nil, metrics.New(), nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK, "ok"},
		{"index", http.MethodGet, "/", "", http.StatusOK, "dictate"},
		{"static asset", http.MethodGet, "/static/app.js", "", http.StatusOK, "console.log"},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "dictate_"},
		{"revise", http.MethodPost, "/revise", `{"raw_text":"a","commands":[]}`, http.StatusOK, "revised_text"},
		{"revise wrong method", http.MethodGet, "/revise", "", http.StatusMethodNotAllowed, ""},
		{"unknown path", http.MethodGet, "/nope", "", http.StatusNotFound, ""},
		{"preflight", http.MethodOptions, "/revise", "", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
		})
	}
}

func TestRouter_RequiresTokenWhenConfigured(t *testing.T) {
	h := NewRouter(RouterConfig{JWTSecret: "s3cret"}, testLogger(), &fakeRunner{}, &fakeReviser{reply: "ok"}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/revise", strings.NewReader(`{"raw_text":"a"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/revise status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSentryRecovery(t *testing.T) {
	h := withSentryRecovery(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

// fakeRealtime is an upstream stand-in: it answers a commit with one delta
// and one completed transcript, then drops the connection.
func fakeRealtime(t *testing.T, appended *atomic.Int32) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := up.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upstream upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(data, &msg)

			switch msg.Type {
			case realtime.TypeAudioAppend:
				appended.Add(1)
			case realtime.TypeAudioCommit:
				_ = conn.WriteJSON(map[string]any{
					"type":    realtime.TypeTranscriptionDelta,
					"item_id": "item_1",
					"delta":   "hello",
				})
				_ = conn.WriteJSON(map[string]any{
					"type":       realtime.TypeTranscriptionCompleted,
					"item_id":    "item_1",
					"transcript": "hello world",
				})
				return
			}
		}
	}))
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

type clientFrame struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
}

func readFrames(t *testing.T, conn *websocket.Conn) []clientFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frames []clientFrame
	for {
		var f clientFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				t.Fatal("timed out waiting for the session to close")
			}
			return frames
		}
		frames = append(frames, f)
	}
}

func TestSessionWS_EndToEnd(t *testing.T) {
	var appended atomic.Int32
	upstream := fakeRealtime(t, &appended)
	defer upstream.Close()

	m := metrics.New()
	sup := relay.NewSupervisor(
		relay.Config{
			APIKey:      "sk-test",
			Session:     realtime.SessionConfig{TranscriptionModel: "gpt-4o-mini-transcribe", Language: "en"},
			CommitDrain: 2 * time.Second,
		},
		relay.RealtimeDialer(realtime.Config{APIKey: "sk-test", Model: "gpt-realtime", URL: wsURL(upstream.URL, "")}),
		testLogger(), m, nil,
	)
	tracker := NewSessionTracker()
	srv := httptest.NewServer(NewRouter(RouterConfig{StaticDir: t.TempDir()}, testLogger(), sup, &fakeReviser{}, tracker, m, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 960)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 960)); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(relay.StopMarker)); err != nil {
		t.Fatal(err)
	}

	frames := readFrames(t, conn)
	if len(frames) != 2 {
		t.Fatalf("frames = %+v, want 2", frames)
	}
	if frames[0].Type != "transcript" || frames[0].Text != "hello" || frames[0].IsFinal {
		t.Errorf("first frame = %+v, want interim delta", frames[0])
	}
	if frames[1].Type != "transcript" || frames[1].Text != "hello world" || !frames[1].IsFinal || !frames[1].SpeechFinal {
		t.Errorf("second frame = %+v, want final transcript", frames[1])
	}

	if got := appended.Load(); got != 2 {
		t.Errorf("upstream appends = %d, want 2", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tracker.ActiveCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tracker.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d after session end, want 0", tracker.ActiveCount())
	}
	if got := testutil.ToFloat64(m.TranscriptFinals); got != 1 {
		t.Errorf("transcript finals = %v, want 1", got)
	}
}

func TestSessionWS_MissingCredential(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context) (relay.Upstream, error) {
		dials.Add(1)
		return nil, errors.New("should not dial")
	}
	sup := relay.NewSupervisor(relay.Config{}, dial, testLogger(), nil, nil)
	srv := httptest.NewServer(NewRouter(RouterConfig{}, testLogger(), sup, &fakeReviser{}, nil, nil, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := readFrames(t, conn)
	if len(frames) != 1 {
		t.Fatalf("frames = %+v, want exactly one", frames)
	}
	if frames[0].Type != "error" || frames[0].Message != "OPENAI_API_KEY is missing" {
		t.Errorf("frame = %+v", frames[0])
	}
	if dials.Load() != 0 {
		t.Errorf("upstream dials = %d, want 0", dials.Load())
	}
}

func TestSessionWS_ConnectFailure(t *testing.T) {
	dial := func(ctx context.Context) (relay.Upstream, error) {
		return nil, errors.New("handshake refused")
	}
	sup := relay.NewSupervisor(relay.Config{APIKey: "sk-test"}, dial, testLogger(), nil, nil)
	srv := httptest.NewServer(NewRouter(RouterConfig{}, testLogger(), sup, &fakeReviser{}, nil, nil, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := readFrames(t, conn)
	if len(frames) != 1 {
		t.Fatalf("frames = %+v, want exactly one", frames)
	}
	if frames[0].Type != "error" || !strings.HasPrefix(frames[0].Message, "OpenAI connection failed: ") {
		t.Errorf("frame = %+v", frames[0])
	}
	if !strings.Contains(frames[0].Message, "handshake refused") {
		t.Errorf("message %q should cite the cause", frames[0].Message)
	}
}
