package chat

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/carelink/internal/llm"
	"github.com/linnemanlabs/carelink/internal/memory"
	"github.com/linnemanlabs/carelink/internal/redact"
	"github.com/linnemanlabs/carelink/internal/risk"
)

var tracer = otel.Tracer("github.com/linnemanlabs/carelink/internal/chat")

const generateMaxTokens = 1024

// DefaultContextWindow is how many recent messages are carried into the
// generation prompt when no window is configured.
const DefaultContextWindow = 20

// Service runs the per-message pipeline.
type Service struct {
	store         Store
	memories      memory.Store
	mutator       *memory.Mutator
	extractor     *memory.Extractor
	assessor      *risk.Assessor
	generator     llm.Provider
	redactor      *redact.Redactor
	logger        log.Logger
	metrics       *Metrics
	contextWindow int
}

// NewService wires the pipeline components together. metrics may be nil.
func NewService(
	store Store,
	memories memory.Store,
	mutator *memory.Mutator,
	extractor *memory.Extractor,
	assessor *risk.Assessor,
	generator llm.Provider,
	logger log.Logger,
	metrics *Metrics,
	contextWindow int,
) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	return &Service{
		store:         store,
		memories:      memories,
		mutator:       mutator,
		extractor:     extractor,
		assessor:      assessor,
		generator:     generator,
		redactor:      redact.New(),
		logger:        logger,
		metrics:       metrics,
		contextWindow: contextWindow,
	}
}

// ProcessMessage runs one patient message through the pipeline:
// resolve conversation, build redacted context, generate the reply,
// assess risk and extract facts from the raw text, persist the turn,
// mutate memory, and surface an escalation offer when flagged.
//
// The assistant reply is computed against the pre-mutation memory
// state; the escalation decision uses this turn's risk assessment.
func (s *Service) ProcessMessage(ctx context.Context, patientID, text, conversationID string) (*TurnResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "chat.ProcessMessage")
	defer span.End()

	patient, ok, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.observeTurn("rejected", time.Since(start).Seconds())
		return nil, ErrPatientNotFound
	}

	conv, err := s.resolveConversation(ctx, patient, conversationID)
	if err != nil {
		s.metrics.observeTurn("rejected", time.Since(start).Seconds())
		return nil, err
	}
	span.SetAttributes(attribute.String("carelink.conversation.id", conv.ID))

	L := s.logger.With("conversation_id", conv.ID, "patient_id", patientID)

	// Context is built from pre-mutation memory.
	items, err := s.memories.ActiveItems(ctx, patientID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.RecentMessages(ctx, conv.ID, s.contextWindow)
	if err != nil {
		return nil, err
	}

	// Everything that leaves for the conversational model is redacted
	// as one unit so placeholders are consistent across profile,
	// history, and the new message.
	red := s.redactor.Redact(buildConversationPrompt(items, recent, text), knownIdentifiers(patient))
	s.metrics.observeRedaction(red.Stats.Names, red.Stats.IDNumbers, red.Stats.Phones)
	L.Info(ctx, "phi.redaction",
		"names_redacted", red.Stats.Names,
		"id_numbers_redacted", red.Stats.IDNumbers,
		"phones_redacted", red.Stats.Phones,
	)

	replyText := fallbackReply
	generationFailed := false
	resp, err := s.generator.Complete(ctx, &llm.Request{
		System:    buildSystemPrompt(),
		Prompt:    red.Text,
		MaxTokens: generateMaxTokens,
	})
	if err != nil {
		s.metrics.observeLLMCall("generate", err, 0, 0)
		generationFailed = true
		L.Error(ctx, err, "generation failed, replying with fallback")
	} else {
		s.metrics.observeLLMCall("generate", nil, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		replyText = s.redactor.Restore(resp.Text, red.Map)
	}

	// Risk assessment and fact extraction are independent reads of the
	// same raw utterance; run them concurrently. Both recover locally.
	var (
		assessment *risk.Assessment
		facts      []memory.Fact
		wg         sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		assessment = s.assessor.Assess(ctx, text)
	}()
	go func() {
		defer wg.Done()
		facts = s.extractor.Extract(ctx, text, items)
	}()
	wg.Wait()

	patientMsg := &Message{
		ID:             ulid.Make().String(),
		ConversationID: conv.ID,
		Sender:         SenderPatient,
		Content:        text,
		RiskLevel:      string(assessment.Level),
		RiskReason:     assessment.Reason,
		RiskConfidence: string(assessment.Confidence),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, patientMsg); err != nil {
		return nil, err
	}

	assistantMsg := &Message{
		ID:             ulid.Make().String(),
		ConversationID: conv.ID,
		Sender:         SenderAssistant,
		Content:        replyText,
		Citations:      parseCitations(replyText),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}

	// Memory mutation runs strictly after message persistence so
	// provenance always points at a stored message.
	touched, err := s.mutator.Apply(ctx, patientID, facts, patientMsg.ID)
	if err != nil {
		// The turn is already recorded; losing a mutation is logged,
		// not surfaced as a failed turn.
		L.Error(ctx, err, "memory mutation failed", "facts", len(facts))
	}
	s.metrics.observeFacts(factActions(facts))

	result := &TurnResult{
		ConversationID:   conv.ID,
		PatientMessage:   patientMsg,
		AssistantMessage: assistantMsg,
		Risk:             assessment,
		MemoryUpdates:    touched,
	}

	if assessment.ShouldEscalate {
		if conv.Status == ConversationActive {
			now := time.Now().UTC()
			conv.Status = ConversationEscalated
			conv.EscalatedAt = &now
		}
		result.EscalationOffer = &EscalationOffer{
			Level:  assessment.Level,
			Reason: assessment.Reason,
			Message: "Based on what you've described, we recommend connecting you " +
				"with a clinician. Would you like us to do that now?",
		}
		s.metrics.observeEscalationOffer()
	}

	conv.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}

	outcome := "ok"
	if generationFailed {
		outcome = "generation_fallback"
	}
	s.metrics.observeTurn(outcome, time.Since(start).Seconds())

	L.Info(ctx, "turn processed",
		"outcome", outcome,
		"risk_level", string(assessment.Level),
		"should_escalate", assessment.ShouldEscalate,
		"facts", len(facts),
		"memory_updates", len(touched),
		"duration", time.Since(start).Seconds(),
	)
	return result, nil
}

// PollReplies returns clinician messages created strictly after since.
// Polling is idempotent; callers dedupe by message ID.
func (s *Service) PollReplies(ctx context.Context, conversationID string, since time.Time) ([]Message, error) {
	_, ok, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConversationNotFound
	}
	return s.store.ClinicianMessagesSince(ctx, conversationID, since)
}

// RegisterPatient creates or updates a patient record. The creation
// time of an existing record is preserved.
func (s *Service) RegisterPatient(ctx context.Context, id, clinicID, firstName, lastName string) (*Patient, error) {
	p := &Patient{
		ID:        id,
		ClinicID:  clinicID,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: time.Now().UTC(),
	}
	existing, ok, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		p.CreatedAt = existing.CreatedAt
	}
	if err := s.store.UpsertPatient(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "patient registered",
		"patient_id", p.ID, "clinic_id", p.ClinicID, "existing", ok)
	return p, nil
}

// resolveConversation finds or creates the target conversation and
// enforces the message-acceptance guards.
func (s *Service) resolveConversation(ctx context.Context, patient *Patient, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		now := time.Now().UTC()
		conv := &Conversation{
			ID:        ulid.Make().String(),
			PatientID: patient.ID,
			ClinicID:  patient.ClinicID,
			Status:    ConversationActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}

	conv, ok, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConversationNotFound
	}
	if conv.PatientID != patient.ID {
		return nil, ErrNotOwner
	}

	switch conv.Status {
	case ConversationClosed:
		return nil, ErrConversationClosed
	case ConversationEscalated:
		since := conv.CreatedAt
		if conv.EscalatedAt != nil {
			since = *conv.EscalatedAt
		}
		replies, err := s.store.ClinicianMessagesSince(ctx, conv.ID, since)
		if err != nil {
			return nil, err
		}
		if len(replies) == 0 {
			return nil, ErrAwaitingClinician
		}
	}
	return conv, nil
}

// knownIdentifiers lists the patient's name forms for the priority
// redaction pass, longest first so partial replacements cannot split a
// full-name match.
func knownIdentifiers(p *Patient) []string {
	return []string{p.FullName(), p.FirstName, p.LastName}
}

var (
	citationPattern    = regexp.MustCompile(`\[([^\[\]]+)\]`)
	placeholderPattern = regexp.MustCompile(`^(?:PERSON|ID_NUMBER|PHONE)_\d+$`)
)

// parseCitations pulls bracketed source references out of an assistant
// reply, skipping anything shaped like an unrestored redaction
// placeholder.
func parseCitations(text string) []string {
	var out []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if placeholderPattern.MatchString(m[1]) {
			continue
		}
		out = append(out, m[1])
	}
	return out
}

func factActions(facts []memory.Fact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, string(f.Action))
	}
	return out
}
