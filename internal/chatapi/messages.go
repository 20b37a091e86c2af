package chatapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxMessageBytes = 32 << 10 // 32 KiB

type postMessageRequest struct {
	PatientID      string `json:"patient_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := uuid.Parse(req.PatientID); err != nil {
		writeError(w, http.StatusBadRequest, "patient_id must be a UUID")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("carelink.patient.id", req.PatientID))

	result, err := a.chats.ProcessMessage(r.Context(), req.PatientID, req.Content, req.ConversationID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePollReplies(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	// Without since the poll returns every clinician reply on the
	// conversation; clients dedupe by message ID either way.
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	replies, err := a.chats.PollReplies(r.Context(), conversationID, since)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"replies":         replies,
	})
}
