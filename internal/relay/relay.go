// Package relay runs dictation sessions: it connects a browser websocket to the
// realtime transcription service, forwards audio one way and transcripts the
// other, and tears both connections down when either side is done.
package relay

import (
	"context"
	"sync"

	"github.com/lukasbauer/dictate/internal/realtime"
)

// StopMarker is the client text message that ends audio capture.
const StopMarker = "stop"

// ClientConn is the browser side of a session. *websocket.Conn satisfies it.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Upstream is the realtime transcription side of a session.
// *realtime.Client satisfies it.
type Upstream interface {
	UpdateSession(cfg realtime.SessionConfig) error
	AppendAudio(audio []byte) error
	Commit() error
	ReadEvent() (realtime.Event, error)
	Close() error
}

// DialFunc opens a new upstream connection.
type DialFunc func(ctx context.Context) (Upstream, error)

// RealtimeDialer returns a DialFunc backed by realtime.Dial.
func RealtimeDialer(cfg realtime.Config) DialFunc {
	return func(ctx context.Context) (Upstream, error) {
		return realtime.Dial(ctx, cfg)
	}
}

// Client-facing frames.

const (
	frameTranscript = "transcript"
	frameError      = "error"
)

type transcriptFrame struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// onceCloser closes the wrapped connection at most once and drops the error;
// teardown runs on every exit path and may race with the loops' own exits.
type onceCloser struct {
	once sync.Once
	c    interface{ Close() error }
}

func (o *onceCloser) Close() {
	o.once.Do(func() {
		_ = o.c.Close()
	})
}
