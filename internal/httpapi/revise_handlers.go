package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lukasbauer/dictate/internal/eventlog"
	"github.com/lukasbauer/dictate/internal/revise"
)

type reviseRequest struct {
	RawText  string   `json:"raw_text"`
	Commands []string `json:"commands"`
}

type reviseResponse struct {
	RevisedText string `json:"revised_text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleRevise applies spoken edit commands to a raw transcript.
func (r *Router) handleRevise(w http.ResponseWriter, req *http.Request) {
	var body reviseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.metrics.Revision("invalid", 0)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// Revisions are not tied to a relay session; the ID only groups log rows.
	requestID := uuid.NewString()
	start := time.Now()

	revised, err := r.reviser.Revise(req.Context(), body.RawText, body.Commands)
	elapsed := time.Since(start)
	if err != nil {
		status := http.StatusBadGateway
		outcome := "failed"
		switch {
		case errors.Is(err, revise.ErrNoText):
			status, outcome = http.StatusBadRequest, "invalid"
		case errors.Is(err, revise.ErrMissingCredential):
			status, outcome = http.StatusServiceUnavailable, "invalid"
		default:
			r.logger.Printf("revise: %v", err)
			captureError(req, err, "revise: completion failed")
		}
		r.metrics.Revision(outcome, elapsed.Seconds())
		r.eventLog.LogAsync(requestID, eventlog.EventRevisionFailed, map[string]any{
			"error":    err.Error(),
			"commands": len(body.Commands),
		})
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	r.metrics.Revision("ok", elapsed.Seconds())
	r.eventLog.LogAsync(requestID, eventlog.EventRevisionCompleted, map[string]any{
		"commands":      len(body.Commands),
		"input_length":  len(body.RawText),
		"output_length": len(revised),
		"duration_ms":   elapsed.Milliseconds(),
	})
	writeJSON(w, http.StatusOK, reviseResponse{RevisedText: revised})
}
