package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string
	StaticDir string

	// OpenAI
	OpenAIAPIKey       string
	RealtimeModel      string
	TranscriptionModel string
	ReviseModel        string
	Language           string // transcription language, e.g. "en"
	RealtimeURL        string
	OpenAIBaseURL      string

	// How long trailing transcripts may arrive after the client stops.
	CommitDrainTimeout time.Duration

	// How long live sessions may run on after SIGTERM before being cancelled.
	ShutdownTimeout time.Duration

	// Observability
	SentryDSN   string
	Environment string
	DatabaseURL string // optional session event log

	// Optional bearer auth for /ws and /revise
	JWTSecret string
}

// LoadDotEnv loads .env.local and then .env from dir into the process
// environment. Variables already set win; missing files are ignored.
func LoadDotEnv(dir string) {
	for _, name := range []string{".env.local", ".env"} {
		path := name
		if dir != "" {
			path = strings.TrimSuffix(dir, "/") + "/" + name
		}
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:  getenv("HTTP_ADDR", "127.0.0.1:8000"),
		StaticDir: getenv("STATIC_DIR", "static"),

		// OpenAI
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RealtimeModel:      getenv("OPENAI_REALTIME_MODEL", "gpt-realtime"),
		TranscriptionModel: getenv("OPENAI_TRANSCRIPTION_MODEL", "gpt-4o-mini-transcribe"),
		ReviseModel:        getenv("OPENAI_REVISE_MODEL", "gpt-4.1-mini"),
		Language:           getenv("TRANSCRIPTION_LANGUAGE", "en"),
		RealtimeURL:        getenv("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIBaseURL:      getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		CommitDrainTimeout: getenvDuration("COMMIT_DRAIN_TIMEOUT", 2*time.Second),
		ShutdownTimeout:    getenvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Observability
		SentryDSN:   os.Getenv("SENTRY_DSN"),
		Environment: getenv("ENVIRONMENT", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvDuration parses a Go duration ("1500ms", "2s"). Invalid or negative
// values fall back to def.
func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
