package realtime

// Input audio and turn detection settings sent with every session.update.
const (
	SampleRate        = 24000 // PCM16 mono
	NoiseReduction    = "near_field"
	VADThreshold      = 0.5
	PrefixPaddingMs   = 300
	SilenceDurationMs = 500
)

// SessionConfig holds the per-session transcription settings.
type SessionConfig struct {
	TranscriptionModel string // e.g., "gpt-4o-mini-transcribe"
	Language           string // e.g., "en"
}

type sessionUpdate struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

type sessionBody struct {
	Type  string      `json:"type"`
	Audio audioConfig `json:"audio"`
}

type audioConfig struct {
	Input audioInput `json:"input"`
}

type audioInput struct {
	Format         audioFormat    `json:"format"`
	NoiseReduction noiseReduction `json:"noise_reduction"`
	Transcription  transcription  `json:"transcription"`
	TurnDetection  turnDetection  `json:"turn_detection"`
}

type audioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

type transcription struct {
	Model    string `json:"model"`
	Language string `json:"language"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

// updateMessage builds the session.update frame. Server VAD finalizes turns;
// the relay only wants transcripts, so model responses stay disabled.
func (c SessionConfig) updateMessage() sessionUpdate {
	language := c.Language
	if language == "" {
		language = "en"
	}
	return sessionUpdate{
		Type: TypeSessionUpdate,
		Session: sessionBody{
			Type: "realtime",
			Audio: audioConfig{
				Input: audioInput{
					Format:         audioFormat{Type: "audio/pcm", Rate: SampleRate},
					NoiseReduction: noiseReduction{Type: NoiseReduction},
					Transcription: transcription{
						Model:    c.TranscriptionModel,
						Language: language,
					},
					TurnDetection: turnDetection{
						Type:              "server_vad",
						Threshold:         VADThreshold,
						PrefixPaddingMs:   PrefixPaddingMs,
						SilenceDurationMs: SilenceDurationMs,
						CreateResponse:    false,
					},
				},
			},
		},
	}
}
