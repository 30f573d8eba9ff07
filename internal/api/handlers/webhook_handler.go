package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/models"
)

// TranscriptionApplier resumes ingestion from a terminal transcription result.
type TranscriptionApplier interface {
	OnTranscriptionResult(ctx context.Context, res *core.TranscriptionResult) error
}

type WebhookHandler struct {
	pipeline TranscriptionApplier
}

func NewWebhookHandler(pipeline TranscriptionApplier) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline}
}

type transcriptionCallback struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Output struct {
		Language string                 `json:"language"`
		Segments []models.TranscriptCue `json:"segments"`
	} `json:"output"`
}

// Transcription receives the provider's job callback. Unknown jobs and
// duplicate deliveries both return 200 so the provider stops retrying.
func (h *WebhookHandler) Transcription(w http.ResponseWriter, r *http.Request) {
	var cb transcriptionCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if cb.ID == "" {
		respondError(w, http.StatusBadRequest, "missing job id")
		return
	}

	res := &core.TranscriptionResult{
		JobID:    cb.ID,
		Language: cb.Output.Language,
		Cues:     cb.Output.Segments,
		Error:    cb.Error,
	}
	switch strings.ToLower(cb.Status) {
	case "completed", "complete", "succeeded", "success":
		res.Done = true
	case "failed", "error", "cancelled", "canceled":
		res.Failed = true
		if res.Error == "" {
			res.Error = "transcription job " + cb.Status
		}
	default:
		// Progress pings carry nothing actionable.
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.pipeline.OnTranscriptionResult(r.Context(), res); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}
