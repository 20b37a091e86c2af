package escalation

import (
	"context"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/carelink/internal/chat"
	"github.com/linnemanlabs/carelink/internal/memory"
	"github.com/linnemanlabs/carelink/internal/risk"
)

const maxSummaryBullets = 5

// Service owns escalation lifecycle transitions. All state changes go
// through here so the forward-only lifecycle holds regardless of
// which API surface triggered them.
type Service struct {
	store    Store
	chats    chat.Store
	memories memory.Store
	mutator  *memory.Mutator
	logger   log.Logger
	metrics  *chat.Metrics
	notifier Notifier
}

// NewService wires the escalation service. metrics and notifier may be
// nil.
func NewService(
	store Store,
	chats chat.Store,
	memories memory.Store,
	mutator *memory.Mutator,
	logger log.Logger,
	metrics *chat.Metrics,
	notifier Notifier,
) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		chats:    chats,
		memories: memories,
		mutator:  mutator,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
	}
}

// Create opens an escalation for the conversation. An offer shown to
// the patient does not create one; this call is the acceptance. At
// most one escalation can be open per conversation, but a conversation
// whose prior escalation was resolved can escalate again: Create moves
// it back into the escalated state.
func (s *Service) Create(ctx context.Context, conversationID, patientID string) (*Escalation, error) {
	conv, ok, err := s.chats.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	if conv.PatientID != patientID {
		return nil, chat.ErrNotOwner
	}

	if _, open, err := s.store.OpenByConversation(ctx, conversationID); err != nil {
		return nil, err
	} else if open {
		return nil, ErrAlreadyOpen
	}

	patient, ok, err := s.chats.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chat.ErrPatientNotFound
	}

	recent, err := s.chats.RecentMessages(ctx, conversationID, chat.DefaultContextWindow)
	if err != nil {
		return nil, err
	}
	latest := latestPatientMessage(recent)

	items, err := s.memories.ItemsByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &Escalation{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		PatientID:      patientID,
		ClinicID:       conv.ClinicID,
		Status:         StatusPending,
		Priority:       derivePriority(latest),
		Reason:         deriveReason(latest),
		Summary:        buildSummary(latest, items),
		Snapshot: &Snapshot{
			PatientName: patient.FullName(),
			Items:       snapshotItems(items),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if latest != nil {
		e.TriggeringMessageID = latest.ID
	}

	var transition *chat.Conversation
	if conv.Status != chat.ConversationEscalated {
		conv.Status = chat.ConversationEscalated
		conv.EscalatedAt = &now
		conv.UpdatedAt = now
		transition = conv
	}
	if err := s.store.InsertEscalationWithConversation(ctx, e, transition); err != nil {
		return nil, err
	}
	s.metrics.ObserveEscalationTransition("created")
	s.logger.Info(ctx, "escalation created",
		"escalation_id", e.ID,
		"conversation_id", conversationID,
		"clinic_id", e.ClinicID,
		"priority", string(e.Priority),
		"snapshot_items", len(e.Snapshot.Items),
	)

	if s.notifier != nil {
		if err := s.notifier.EscalationCreated(ctx, e); err != nil {
			// Notification is best effort; the escalation is already
			// in the clinic queue.
			s.logger.Error(ctx, err, "escalation notification failed", "escalation_id", e.ID)
		}
	}
	return e, nil
}

// Get returns the escalation and records the first clinician view:
// a pending escalation becomes viewed. Subsequent reads are no-ops.
func (s *Service) Get(ctx context.Context, id string) (*Escalation, error) {
	e, ok, err := s.store.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status == StatusPending {
		e.Status = StatusViewed
		e.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateEscalation(ctx, e); err != nil {
			return nil, err
		}
		s.metrics.ObserveEscalationTransition("viewed")
	}
	return e, nil
}

// Reply records a clinician message on the escalated conversation and
// moves the escalation to in_progress. The first replying clinician
// becomes the assignee. The guidance also enters the patient's memory
// so future assistant replies can cite it. clinicianID is optional.
func (s *Service) Reply(ctx context.Context, id, text, clinicianID string) (*chat.Message, error) {
	e, ok, err := s.store.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status == StatusResolved {
		return nil, ErrResolved
	}

	msg := &chat.Message{
		ID:             ulid.Make().String(),
		ConversationID: e.ConversationID,
		Sender:         chat.SenderClinician,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.chats.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	transitioned := e.Status == StatusPending || e.Status == StatusViewed
	assigned := clinicianID != "" && e.AssignedClinicianID == ""
	if transitioned {
		e.Status = StatusInProgress
	}
	if assigned {
		e.AssignedClinicianID = clinicianID
	}
	if transitioned || assigned {
		e.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateEscalation(ctx, e); err != nil {
			return nil, err
		}
	}
	if transitioned {
		s.metrics.ObserveEscalationTransition("in_progress")
	}

	guidance := []memory.Fact{{
		Type:   memory.TypeClinicianGuidance,
		Value:  text,
		Action: memory.ActionAdd,
	}}
	if _, err := s.mutator.Apply(ctx, e.PatientID, guidance, msg.ID); err != nil {
		// The reply reached the patient; a failed guidance write must
		// not roll that back.
		s.logger.Error(ctx, err, "clinician guidance write failed",
			"escalation_id", e.ID, "message_id", msg.ID)
	}

	s.logger.Info(ctx, "clinician replied",
		"escalation_id", e.ID,
		"conversation_id", e.ConversationID,
		"message_id", msg.ID,
	)
	return msg, nil
}

// Resolve terminally closes the escalation and its conversation. notes
// are optional free-text resolution notes from the clinician.
func (s *Service) Resolve(ctx context.Context, id, notes string) (*Escalation, error) {
	e, ok, err := s.store.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status == StatusResolved {
		return nil, ErrResolved
	}

	conv, ok, err := s.chats.GetConversation(ctx, e.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chat.ErrConversationNotFound
	}

	now := time.Now().UTC()
	e.Status = StatusResolved
	e.ResolvedAt = &now
	e.ResolutionNotes = strings.TrimSpace(notes)
	e.UpdatedAt = now
	conv.Status = chat.ConversationClosed
	conv.UpdatedAt = now

	if err := s.store.ResolveWithConversation(ctx, e, conv); err != nil {
		return nil, err
	}
	s.metrics.ObserveEscalationTransition("resolved")
	s.logger.Info(ctx, "escalation resolved",
		"escalation_id", e.ID, "conversation_id", e.ConversationID)
	return e, nil
}

// Queue lists the clinic's unresolved escalations, highest priority
// first, oldest first within a priority.
func (s *Service) Queue(ctx context.Context, clinicID string) ([]Escalation, error) {
	return s.store.QueueByClinic(ctx, clinicID)
}

func latestPatientMessage(msgs []chat.Message) *chat.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == chat.SenderPatient {
			return &msgs[i]
		}
	}
	return nil
}

// derivePriority maps the triggering message's risk level onto the
// queue priority. Everything below high-risk lands at medium so a
// patient-initiated escalation is never buried.
func derivePriority(latest *chat.Message) Priority {
	if latest != nil && latest.RiskLevel == string(risk.LevelHigh) {
		return PriorityHigh
	}
	return PriorityMedium
}

func deriveReason(latest *chat.Message) string {
	if latest != nil && latest.RiskReason != "" {
		return latest.RiskReason
	}
	return "patient requested clinician review"
}

// buildSummary produces the at-a-glance bullets for the queue view:
// the triggering concern first, then current symptoms, then current
// medications, capped at maxSummaryBullets.
func buildSummary(latest *chat.Message, items []memory.Item) []string {
	bullets := []string{deriveReason(latest)}
	for _, group := range []string{memory.TypeSymptom, memory.TypeMedication} {
		for _, it := range items {
			if len(bullets) == maxSummaryBullets {
				return bullets
			}
			if it.Status != memory.StatusActive || it.MemoryType != group {
				continue
			}
			b := it.MemoryType + ": " + it.Value
			if it.Timeline != "" {
				b += " (" + it.Timeline + ")"
			}
			bullets = append(bullets, b)
		}
	}
	return bullets
}

func snapshotItems(items []memory.Item) []memory.Item {
	out := make([]memory.Item, 0, len(items))
	for _, it := range items {
		if it.Status == memory.StatusCorrected {
			continue
		}
		out = append(out, it)
	}
	return out
}
