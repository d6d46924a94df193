package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lukasbauer/dictate/internal/eventlog"
	"github.com/lukasbauer/dictate/internal/realtime"
)

// translate reads upstream events and turns them into client frames, feeding
// final transcripts into the session accumulator. It is the only reader of the
// upstream connection and the only writer of the accumulator.
func (s *session) translate(ctx context.Context) loopResult {
	for {
		ev, err := s.upstream.ReadEvent()
		if err != nil {
			var decodeErr *realtime.DecodeError
			if errors.As(err, &decodeErr) {
				s.logger.Printf("relay: session %s: skipping malformed event: %v", s.id, err)
				continue
			}
			if ctx.Err() != nil {
				return loopResult{loop: loopTranslator, reason: exitCancelled}
			}
			return loopResult{loop: loopTranslator, reason: exitUpstreamGone, err: err}
		}
		if ctx.Err() != nil {
			return loopResult{loop: loopTranslator, reason: exitCancelled}
		}

		if err := s.dispatch(ev); err != nil {
			if ctx.Err() != nil {
				return loopResult{loop: loopTranslator, reason: exitCancelled}
			}
			return loopResult{loop: loopTranslator, reason: exitClientGone, err: err}
		}
	}
}

// dispatch handles one event. The returned error is a client write failure.
func (s *session) dispatch(ev realtime.Event) error {
	switch ev := ev.(type) {
	case realtime.TranscriptDelta:
		s.metrics.Delta()
		return s.writeFrame(transcriptFrame{
			Type: frameTranscript,
			Text: ev.Delta,
		})

	case realtime.TranscriptCompleted:
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			return nil
		}
		if err := s.writeFrame(transcriptFrame{
			Type:        frameTranscript,
			Text:        text,
			IsFinal:     true,
			SpeechFinal: true,
		}); err != nil {
			return err
		}
		s.acc.Add(text)
		s.metrics.Final()
		s.events.LogAsync(s.id, eventlog.EventTranscriptFinal, map[string]any{
			"item_id": ev.ItemID,
			"text":    text,
		})
		return nil

	case realtime.ErrorEvent:
		s.logger.Printf("relay: session %s: upstream error %q: %s", s.id, ev.Code, ev.Message)
		s.metrics.UpstreamError()
		s.events.LogAsync(s.id, eventlog.EventUpstreamError, map[string]any{
			"code":    ev.Code,
			"message": ev.Message,
		})
		return s.writeFrame(errorFrame{Type: frameError, Message: ev.Message})

	default:
		return nil
	}
}

func (s *session) writeFrame(v any) error {
	if err := s.client.WriteJSON(v); err != nil {
		return fmt.Errorf("write client frame: %w", err)
	}
	return nil
}
