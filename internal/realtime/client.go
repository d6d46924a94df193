// Package realtime is a minimal client for the OpenAI Realtime transcription
// websocket: it sends session, audio and commit commands and decodes the
// transcription events that come back.
package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the realtime websocket endpoint.
const DefaultURL = "wss://api.openai.com/v1/realtime"

// closeGrace bounds the close handshake write on teardown.
const closeGrace = time.Second

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("realtime: connection closed")

// Config holds configuration for dialing the realtime service.
type Config struct {
	APIKey           string
	Model            string // e.g., "gpt-realtime"
	URL              string // defaults to DefaultURL
	HandshakeTimeout time.Duration
}

// Client is one realtime websocket connection. Writes are serialized; a single
// goroutine may read with ReadEvent concurrently with writers.
type Client struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the realtime service. It does not send any session
// configuration; call UpdateSession next.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	endpoint, err := endpointURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

func endpointURL(cfg Config) (string, error) {
	base := cfg.URL
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if cfg.Model != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// UpdateSession sends the session.update configuration frame.
func (c *Client) UpdateSession(cfg SessionConfig) error {
	return c.writeJSON(cfg.updateMessage())
}

// AppendAudio sends one chunk of PCM16 audio as input_audio_buffer.append.
func (c *Client) AppendAudio(audio []byte) error {
	return c.writeJSON(audioAppend{
		Type:  TypeAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(audio),
	})
}

// Commit sends input_audio_buffer.commit, asking the service to finalize
// whatever audio it has buffered.
func (c *Client) Commit() error {
	return c.writeJSON(audioCommit{Type: TypeAudioCommit})
}

// Ping sends a websocket ping control frame.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace))
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	return c.conn.WriteJSON(v)
}

// ReadEvent blocks for the next inbound event. Transport failures (including
// a closed connection) are returned as-is; a malformed frame yields a
// *DecodeError and the connection stays usable.
func (c *Client) ReadEvent() (Event, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeEvent(msg)
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once; only the first call does anything.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		// WriteControl may run concurrently with an in-flight WriteJSON.
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))

		err = c.conn.Close()
	})
	return err
}
