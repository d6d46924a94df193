// Command probe checks that the realtime transcription endpoint accepts our
// credentials: it performs the websocket handshake, reports how long it took,
// sends a ping and disconnects.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lukasbauer/dictate/internal/app"
	"github.com/lukasbauer/dictate/internal/realtime"
)

func main() {
	app.LoadDotEnv("")
	cfg := app.LoadConfigFromEnv()

	if cfg.OpenAIAPIKey == "" {
		fmt.Println("OPENAI_API_KEY is missing from environment.")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Printf("Connecting to %s (model %s) ...\n", cfg.RealtimeURL, cfg.RealtimeModel)
	start := time.Now()
	client, err := realtime.Dial(ctx, realtime.Config{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.RealtimeModel,
		URL:    cfg.RealtimeURL,
	})
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("Handshake failed after %.2fs: %v\n", elapsed.Seconds(), err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Printf("Handshake OK in %.2fs\n", elapsed.Seconds())
	if err := client.Ping(); err != nil {
		fmt.Printf("Ping failed: %v\n", err)
		os.Exit(1)
	}
}
