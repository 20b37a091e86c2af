// Package chatapi exposes the patient and clinician HTTP surface.
package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/carelink/internal/authmw"
	"github.com/linnemanlabs/carelink/internal/chat"
	"github.com/linnemanlabs/carelink/internal/escalation"
)

// ChatService defines the patient-side operations chatapi needs.
type ChatService interface {
	ProcessMessage(ctx context.Context, patientID, text, conversationID string) (*chat.TurnResult, error)
	PollReplies(ctx context.Context, conversationID string, since time.Time) ([]chat.Message, error)
	RegisterPatient(ctx context.Context, id, clinicID, firstName, lastName string) (*chat.Patient, error)
}

// EscalationService defines the escalation operations chatapi needs.
type EscalationService interface {
	Create(ctx context.Context, conversationID, patientID string) (*escalation.Escalation, error)
	Get(ctx context.Context, id string) (*escalation.Escalation, error)
	Reply(ctx context.Context, id, text, clinicianID string) (*chat.Message, error)
	Resolve(ctx context.Context, id, notes string) (*escalation.Escalation, error)
	Queue(ctx context.Context, clinicID string) ([]escalation.Escalation, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger      log.Logger
	chats       ChatService
	escalations EscalationService
	// clinicianToken guards the clinician routes. Config validation
	// guarantees it is non-empty.
	clinicianToken string
}

// New creates a new API handler.
func New(logger log.Logger, chats ChatService, escalations EscalationService, clinicianToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if chats == nil {
		panic(xerrors.New("chat service is required"))
	}
	if escalations == nil {
		panic(xerrors.New("escalation service is required"))
	}
	return &API{
		logger:         logger,
		chats:          chats,
		escalations:    escalations,
		clinicianToken: clinicianToken,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Patient surface.
		r.Post("/messages", a.handlePostMessage)
		r.Get("/conversations/{id}/replies", a.handlePollReplies)
		r.Post("/escalations", a.handleCreateEscalation)

		// Clinician surface.
		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.clinicianToken))
			r.Post("/patients", a.handleRegisterPatient)
			r.Get("/escalations/{id}", a.handleGetEscalation)
			r.Post("/escalations/{id}/reply", a.handleEscalationReply)
			r.Post("/escalations/{id}/resolve", a.handleResolveEscalation)
			r.Get("/clinics/{clinicID}/queue", a.handleClinicQueue)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrPatientNotFound),
		errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, escalation.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrConversationClosed),
		errors.Is(err, chat.ErrAwaitingClinician),
		errors.Is(err, escalation.ErrAlreadyOpen),
		errors.Is(err, escalation.ErrResolved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(r.Context(), err, "request failed",
			"method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
