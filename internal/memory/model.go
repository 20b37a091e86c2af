package memory

import "time"

// Status tracks the lifecycle of a memory item. Transitions are
// one-way biased: once corrected or resolved an item is excluded from
// active views but retained for audit. Items are never deleted.
type Status string

const (
	StatusActive    Status = "active"
	StatusStopped   Status = "stopped"
	StatusResolved  Status = "resolved"
	StatusCorrected Status = "corrected"
)

// Common memory types. The tag is an open string set; these are the
// values the extractor is prompted to produce.
const (
	TypeSymptom           = "symptom"
	TypeMedication        = "medication"
	TypeAllergy           = "allergy"
	TypeCondition         = "condition"
	TypeChiefComplaint    = "chief_complaint"
	TypeFrequency         = "frequency"
	TypeLifestyle         = "lifestyle"
	TypeClinicianGuidance = "clinician_guidance"
)

// Item is one patient-reported fact in the living memory. Owned
// exclusively by the patient it describes and mutated only by the
// Mutator. For a given (patient, type, lower(value)) at most one item
// is active at a time.
type Item struct {
	ID                  string     `json:"id"`
	PatientID           string     `json:"patient_id"`
	MemoryType          string     `json:"memory_type"`
	Value               string     `json:"value"`
	Status              Status     `json:"status"`
	Timeline            string     `json:"timeline,omitempty"`
	ProvenanceMessageID string     `json:"provenance_message_id,omitempty"`
	ProvenanceTimestamp *time.Time `json:"provenance_timestamp,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Action says what a fact does to the living memory.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// Fact is one structured signal extracted from a patient utterance.
type Fact struct {
	Type          string `json:"type"`
	Value         string `json:"value"`
	Timeline      string `json:"timeline,omitempty"`
	Status        Status `json:"status,omitempty"`
	Action        Action `json:"action"`
	PreviousValue string `json:"previous_value,omitempty"`
}
