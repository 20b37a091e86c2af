package chat

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/carelink/internal/memory"
	"github.com/linnemanlabs/carelink/internal/risk"
)

// ConversationStatus tracks where a conversation is in its lifecycle.
type ConversationStatus string

const (
	// ConversationActive accepts patient messages.
	ConversationActive ConversationStatus = "active"

	// ConversationEscalated is under clinician review. New patient
	// messages are rejected until a clinician has replied.
	ConversationEscalated ConversationStatus = "escalated"

	// ConversationClosed is terminal and rejects new patient messages.
	ConversationClosed ConversationStatus = "closed"
)

// Sender distinguishes who authored a message.
type Sender string

const (
	SenderPatient   Sender = "patient"
	SenderAssistant Sender = "assistant"
	SenderClinician Sender = "clinician"
)

// Patient is the minimal profile the pipeline needs: the clinic scope
// and the name parts used as known identifiers for redaction.
type Patient struct {
	ID        string    `json:"id"`
	ClinicID  string    `json:"clinic_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName returns the display name used for snapshots and redaction.
func (p *Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Conversation is one patient/assistant thread.
type Conversation struct {
	ID          string             `json:"id"`
	PatientID   string             `json:"patient_id"`
	ClinicID    string             `json:"clinic_id"`
	Status      ConversationStatus `json:"status"`
	EscalatedAt *time.Time         `json:"escalated_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Message is one turn in a conversation. Patient messages embed the
// risk fields assessed for that turn; assistant messages carry parsed
// citations.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	RiskLevel      string    `json:"risk_level,omitempty"`
	RiskReason     string    `json:"risk_reason,omitempty"`
	RiskConfidence string    `json:"risk_confidence,omitempty"`
	Citations      []string  `json:"citations,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EscalationOffer is surfaced to the caller when the classifier flags a
// turn for escalation. It is an offer only: the escalation record is
// created by a separate, explicit action.
type EscalationOffer struct {
	Level   risk.Level `json:"level"`
	Reason  string     `json:"reason"`
	Message string     `json:"message"`
}

// TurnResult is the outcome of processing one patient message.
type TurnResult struct {
	ConversationID   string           `json:"conversation_id"`
	PatientMessage   *Message         `json:"patient_message"`
	AssistantMessage *Message         `json:"ai_message"`
	Risk             *risk.Assessment `json:"risk_assessment,omitempty"`
	EscalationOffer  *EscalationOffer `json:"escalation_warning,omitempty"`
	MemoryUpdates    []memory.Item    `json:"memory_updates,omitempty"`
}

// State-violation errors, each distinguishable by the caller.
var (
	ErrPatientNotFound      = xerrors.New("patient not found")
	ErrConversationNotFound = xerrors.New("conversation not found")
	ErrNotOwner             = xerrors.New("conversation belongs to another patient")
	ErrConversationClosed   = xerrors.New("conversation is closed")
	ErrAwaitingClinician    = xerrors.New("conversation is escalated and awaiting clinician reply")
)

// Store is the persistence interface for patients, conversations, and
// messages. Implementations must return messages in created-at order.
type Store interface {
	GetPatient(ctx context.Context, id string) (*Patient, bool, error)
	UpsertPatient(ctx context.Context, p *Patient) error

	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, bool, error)
	UpdateConversation(ctx context.Context, c *Conversation) error

	AppendMessage(ctx context.Context, m *Message) error
	// RecentMessages returns up to limit of the newest messages,
	// oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	// ClinicianMessagesSince returns clinician messages created
	// strictly after since, oldest first.
	ClinicianMessagesSince(ctx context.Context, conversationID string, since time.Time) ([]Message, error)
}
