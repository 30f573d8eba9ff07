package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/services"
)

type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	Question string                 `json:"question"`
	History  []services.ChatMessage `json:"history,omitempty"`
}

// Ask answers a course question with citations. A generation failure maps to
// 502 so clients can retry; everything retrieval-side degrades inside the
// service and still returns 200.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.chat.Answer(r.Context(), courseID, req.Question, req.History)
	if err != nil {
		var genErr *errs.GenerationError
		if errors.As(err, &genErr) {
			respondError(w, http.StatusBadGateway, "answer generation failed, try again")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, answer)
}
