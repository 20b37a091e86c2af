package chatapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createEscalationRequest struct {
	ConversationID string `json:"conversation_id"`
	PatientID      string `json:"patient_id"`
}

func (a *API) handleCreateEscalation(w http.ResponseWriter, r *http.Request) {
	var req createEscalationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := uuid.Parse(req.PatientID); err != nil {
		writeError(w, http.StatusBadRequest, "patient_id must be a UUID")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	e, err := a.escalations.Create(r.Context(), req.ConversationID, req.PatientID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("carelink.escalation.id", e.ID))

	writeJSON(w, http.StatusCreated, e)
}

func (a *API) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := a.escalations.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type escalationReplyRequest struct {
	Content string `json:"content"`
	// ClinicianID is optional; when present the first reply assigns
	// the escalation to that clinician.
	ClinicianID string `json:"clinician_id"`
}

type resolveEscalationRequest struct {
	Notes string `json:"notes"`
}

func (a *API) handleEscalationReply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req escalationReplyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.ClinicianID != "" {
		if _, err := uuid.Parse(req.ClinicianID); err != nil {
			writeError(w, http.StatusBadRequest, "clinician_id must be a UUID")
			return
		}
	}

	msg, err := a.escalations.Reply(r.Context(), id, req.Content, req.ClinicianID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The body is optional; resolving without notes is fine.
	var req resolveEscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}

	e, err := a.escalations.Resolve(r.Context(), id, req.Notes)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleClinicQueue(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if _, err := uuid.Parse(clinicID); err != nil {
		writeError(w, http.StatusBadRequest, "clinic id must be a UUID")
		return
	}

	queue, err := a.escalations.Queue(r.Context(), clinicID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clinic_id":   clinicID,
		"escalations": queue,
	})
}
