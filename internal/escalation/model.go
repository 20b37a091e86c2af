// Package escalation hands conversations off to clinicians and tracks
// them through the review lifecycle.
package escalation

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/carelink/internal/chat"
	"github.com/linnemanlabs/carelink/internal/memory"
)

// Status is the escalation lifecycle state. Transitions only move
// forward: pending -> viewed -> in_progress -> resolved.
type Status string

const (
	StatusPending    Status = "pending"
	StatusViewed     Status = "viewed"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// Priority orders the clinic queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank maps a priority to its queue weight; higher sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Snapshot freezes what the clinician needs at hand-off time. Items
// exclude corrected entries; stopped and resolved ones stay, since
// what recently changed is often the point.
type Snapshot struct {
	PatientName string        `json:"patient_name"`
	Items       []memory.Item `json:"items"`
}

// Escalation is one hand-off of a conversation to a clinic.
type Escalation struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	PatientID      string   `json:"patient_id"`
	ClinicID       string   `json:"clinic_id"`
	Status         Status   `json:"status"`
	Priority       Priority `json:"priority"`
	Reason         string   `json:"reason"`
	// TriggeringMessageID is the patient message the hand-off was
	// judged on. Empty when the conversation had no patient messages.
	TriggeringMessageID string `json:"triggering_message_id,omitempty"`
	// AssignedClinicianID is set when a clinician first replies. Later
	// clinicians do not overwrite it.
	AssignedClinicianID string     `json:"assigned_clinician_id,omitempty"`
	Summary             []string   `json:"summary"`
	Snapshot            *Snapshot  `json:"snapshot,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	// ResolutionNotes is the clinician's optional free-text note
	// recorded at resolve time.
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

// Open reports whether the escalation still needs clinician attention.
func (e *Escalation) Open() bool {
	return e.Status != StatusResolved
}

var (
	ErrNotFound    = xerrors.New("escalation not found")
	ErrAlreadyOpen = xerrors.New("conversation already has an open escalation")
	ErrResolved    = xerrors.New("escalation is resolved")
)

// Store persists escalations.
type Store interface {
	// InsertEscalationWithConversation inserts the escalation and, when
	// c is non-nil, applies the conversation transition in the same
	// atomic step. A failed insert must leave the conversation as it
	// was.
	InsertEscalationWithConversation(ctx context.Context, e *Escalation, c *chat.Conversation) error
	GetEscalation(ctx context.Context, id string) (*Escalation, bool, error)
	UpdateEscalation(ctx context.Context, e *Escalation) error
	// OpenByConversation returns the conversation's open escalation,
	// if any. At most one can be open per conversation.
	OpenByConversation(ctx context.Context, conversationID string) (*Escalation, bool, error)
	// QueueByClinic returns the clinic's unresolved escalations,
	// highest priority first, oldest first within a priority.
	QueueByClinic(ctx context.Context, clinicID string) ([]Escalation, error)
	// ResolveWithConversation marks the escalation resolved and closes
	// its conversation in one atomic step.
	ResolveWithConversation(ctx context.Context, e *Escalation, c *chat.Conversation) error
}

// Notifier announces new escalations to an external channel. Payloads
// carry identifiers and priority only, never message content.
type Notifier interface {
	EscalationCreated(ctx context.Context, e *Escalation) error
}
