package chatapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type registerPatientRequest struct {
	ID        string `json:"id"`
	ClinicID  string `json:"clinic_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (a *API) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req registerPatientRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	if _, err := uuid.Parse(req.ClinicID); err != nil {
		writeError(w, http.StatusBadRequest, "clinic_id must be a UUID")
		return
	}
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if first == "" && last == "" {
		writeError(w, http.StatusBadRequest, "a patient name is required")
		return
	}

	p, err := a.chats.RegisterPatient(r.Context(), req.ID, req.ClinicID, first, last)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
