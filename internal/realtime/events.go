package realtime

import (
	"encoding/json"
	"fmt"
)

// Realtime protocol event types.
const (
	TypeSessionUpdate          = "session.update"
	TypeAudioAppend            = "input_audio_buffer.append"
	TypeAudioCommit            = "input_audio_buffer.commit"
	TypeTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeError                  = "error"
)

// defaultErrorMessage is used when an error event carries no message.
const defaultErrorMessage = "OpenAI error"

// Event is an inbound event from the realtime service. The set of
// implementations is closed: TranscriptDelta, TranscriptCompleted,
// ErrorEvent and UnknownEvent.
type Event interface {
	EventType() string
	sealed()
}

// TranscriptDelta carries incremental transcription text.
type TranscriptDelta struct {
	ItemID string
	Delta  string
}

// TranscriptCompleted carries the final transcript for one committed audio item.
// Transcript is passed through as received, untrimmed.
type TranscriptCompleted struct {
	ItemID     string
	Transcript string
}

// ErrorEvent is a protocol-level error reported by the service. It does not
// close the connection.
type ErrorEvent struct {
	Code    string
	Message string
}

// UnknownEvent is any event type the relay does not act on.
type UnknownEvent struct {
	Type string
}

func (TranscriptDelta) EventType() string     { return TypeTranscriptionDelta }
func (TranscriptCompleted) EventType() string { return TypeTranscriptionCompleted }
func (ErrorEvent) EventType() string          { return TypeError }
func (e UnknownEvent) EventType() string      { return e.Type }

func (TranscriptDelta) sealed()     {}
func (TranscriptCompleted) sealed() {}
func (ErrorEvent) sealed()          {}
func (UnknownEvent) sealed()        {}

// DecodeError reports an inbound frame that is not a valid JSON event.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode realtime event: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wireEvent is the union of the inbound fields the relay reads.
type wireEvent struct {
	Type       string  `json:"type"`
	ItemID     string  `json:"item_id"`
	Delta      string  `json:"delta"`
	Transcript *string `json:"transcript"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeEvent parses one inbound frame into its typed event.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Raw: data, Err: err}
	}

	switch w.Type {
	case TypeTranscriptionDelta:
		return TranscriptDelta{ItemID: w.ItemID, Delta: w.Delta}, nil
	case TypeTranscriptionCompleted:
		var transcript string
		if w.Transcript != nil {
			transcript = *w.Transcript
		}
		return TranscriptCompleted{ItemID: w.ItemID, Transcript: transcript}, nil
	case TypeError:
		ev := ErrorEvent{Message: defaultErrorMessage}
		if w.Error != nil {
			ev.Code = w.Error.Code
			if w.Error.Message != "" {
				ev.Message = w.Error.Message
			}
		}
		return ev, nil
	default:
		return UnknownEvent{Type: w.Type}, nil
	}
}

// Outbound frames.

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16
}

type audioCommit struct {
	Type string `json:"type"`
}
