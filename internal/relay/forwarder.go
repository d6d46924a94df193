package relay

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/dictate/internal/eventlog"
)

// forward reads client messages and sends them upstream: binary frames as
// audio appends, the stop marker as a commit. It is the only writer of the
// upstream connection once the session is running.
func (s *session) forward(ctx context.Context) loopResult {
	for {
		msgType, data, err := s.client.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return loopResult{loop: loopForwarder, reason: exitCancelled}
			}
			// Disconnects and transport failures both end capture quietly.
			return loopResult{loop: loopForwarder, reason: exitClientGone, err: err}
		}
		if ctx.Err() != nil {
			return loopResult{loop: loopForwarder, reason: exitCancelled}
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			if err := s.upstream.AppendAudio(data); err != nil {
				return s.upstreamWriteFailed(ctx, fmt.Errorf("append audio: %w", err))
			}
			s.metrics.AudioForwarded(len(data))

		case websocket.TextMessage:
			if string(data) != StopMarker {
				continue
			}
			if err := s.upstream.Commit(); err != nil {
				return s.upstreamWriteFailed(ctx, fmt.Errorf("commit audio: %w", err))
			}
			s.events.LogAsync(s.id, eventlog.EventCommitSent, nil)
			return loopResult{loop: loopForwarder, reason: exitStopMarker}
		}
	}
}

func (s *session) upstreamWriteFailed(ctx context.Context, err error) loopResult {
	if ctx.Err() != nil {
		return loopResult{loop: loopForwarder, reason: exitCancelled}
	}
	return loopResult{loop: loopForwarder, reason: exitFailed, err: err}
}
