package escalation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/carelink/internal/chat"
	"github.com/linnemanlabs/carelink/internal/memory"
)

// mockChatStore implements chat.Store for testing.
type mockChatStore struct {
	mu            sync.Mutex
	patients      map[string]*chat.Patient
	conversations map[string]*chat.Conversation
	messages      map[string][]chat.Message
}

func newMockChatStore() *mockChatStore {
	return &mockChatStore{
		patients:      make(map[string]*chat.Patient),
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]chat.Message),
	}
}

func (m *mockChatStore) GetPatient(_ context.Context, id string) (*chat.Patient, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (m *mockChatStore) UpsertPatient(_ context.Context, p *chat.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockChatStore) CreateConversation(_ context.Context, c *chat.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conversations[c.ID] = &cp
	return nil
}

func (m *mockChatStore) GetConversation(_ context.Context, id string) (*chat.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (m *mockChatStore) UpdateConversation(_ context.Context, c *chat.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conversations[c.ID] = &cp
	return nil
}

func (m *mockChatStore) AppendMessage(_ context.Context, msg *chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *mockChatStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *mockChatStore) ClinicianMessagesSince(_ context.Context, conversationID string, since time.Time) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Message
	for _, msg := range m.messages[conversationID] {
		if msg.Sender == chat.SenderClinician && msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// mockMemStore implements memory.Store for testing.
type mockMemStore struct {
	mu    sync.Mutex
	items []memory.Item
}

func (m *mockMemStore) ActiveItems(_ context.Context, patientID string) ([]memory.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []memory.Item
	for _, it := range m.items {
		if it.PatientID == patientID && it.Status == memory.StatusActive {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockMemStore) ItemsByPatient(_ context.Context, patientID string) ([]memory.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []memory.Item
	for _, it := range m.items {
		if it.PatientID == patientID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockMemStore) FindActive(_ context.Context, patientID, memoryType, value string) (*memory.Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		it := &m.items[i]
		if it.PatientID == patientID && it.MemoryType == memoryType &&
			it.Status == memory.StatusActive && strings.EqualFold(it.Value, value) {
			cp := *it
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (m *mockMemStore) InsertItem(_ context.Context, item *memory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *item)
	return nil
}

func (m *mockMemStore) UpdateItem(_ context.Context, item *memory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == item.ID {
			m.items[i] = *item
			return nil
		}
	}
	return errors.New("item not found")
}

// mockEscStore implements Store for testing. It shares the chat store
// with the fixture so the combined operations touch conversations the
// way the real stores do.
type mockEscStore struct {
	mu          sync.Mutex
	escalations map[string]*Escalation
	chats       *mockChatStore
	insertErr   error
}

func newMockEscStore(chats *mockChatStore) *mockEscStore {
	return &mockEscStore{escalations: make(map[string]*Escalation), chats: chats}
}

func (m *mockEscStore) InsertEscalationWithConversation(ctx context.Context, e *Escalation, c *chat.Conversation) error {
	m.mu.Lock()
	if m.insertErr != nil {
		m.mu.Unlock()
		return m.insertErr
	}
	for _, other := range m.escalations {
		if other.ConversationID == e.ConversationID && other.Open() {
			m.mu.Unlock()
			return ErrAlreadyOpen
		}
	}
	cp := *e
	m.escalations[e.ID] = &cp
	m.mu.Unlock()
	if c != nil {
		return m.chats.UpdateConversation(ctx, c)
	}
	return nil
}

func (m *mockEscStore) GetEscalation(_ context.Context, id string) (*Escalation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escalations[id]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (m *mockEscStore) UpdateEscalation(_ context.Context, e *Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.escalations[e.ID] = &cp
	return nil
}

func (m *mockEscStore) OpenByConversation(_ context.Context, conversationID string) (*Escalation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.escalations {
		if e.ConversationID == conversationID && e.Open() {
			cp := *e
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (m *mockEscStore) QueueByClinic(_ context.Context, clinicID string) ([]Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Escalation
	for _, e := range m.escalations {
		if e.ClinicID == clinicID && e.Open() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockEscStore) ResolveWithConversation(ctx context.Context, e *Escalation, c *chat.Conversation) error {
	m.mu.Lock()
	cp := *e
	m.escalations[e.ID] = &cp
	m.mu.Unlock()
	return m.chats.UpdateConversation(ctx, c)
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []*Escalation
	err   error
}

func (m *mockNotifier) EscalationCreated(_ context.Context, e *Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, e)
	return m.err
}

type fixture struct {
	chats    *mockChatStore
	memories *mockMemStore
	store    *mockEscStore
	notifier *mockNotifier
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		chats:    newMockChatStore(),
		memories: &mockMemStore{},
		notifier: &mockNotifier{},
	}
	f.store = newMockEscStore(f.chats)
	now := time.Now().UTC()
	f.chats.patients["pat-1"] = &chat.Patient{
		ID: "pat-1", ClinicID: "clinic-1", FirstName: "Alice", LastName: "Tan", CreatedAt: now,
	}
	f.chats.conversations["conv-1"] = &chat.Conversation{
		ID: "conv-1", PatientID: "pat-1", ClinicID: "clinic-1",
		Status: chat.ConversationActive, CreatedAt: now, UpdatedAt: now,
	}
	f.svc = NewService(
		f.store,
		f.chats,
		f.memories,
		memory.NewMutator(f.memories, log.Nop()),
		log.Nop(),
		nil,
		f.notifier,
	)
	return f
}

func TestCreate_HighRiskMessage(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.chats.messages["conv-1"] = []chat.Message{
		{ID: "m-1", ConversationID: "conv-1", Sender: chat.SenderPatient,
			Content: "chest pain", RiskLevel: "high", RiskReason: "possible cardiac symptoms",
			CreatedAt: time.Now().UTC()},
	}
	f.memories.items = []memory.Item{
		{ID: "i-1", PatientID: "pat-1", MemoryType: memory.TypeSymptom,
			Value: "chest tightness", Status: memory.StatusActive},
		{ID: "i-2", PatientID: "pat-1", MemoryType: memory.TypeMedication,
			Value: "aspirin", Status: memory.StatusCorrected},
	}

	e, err := f.svc.Create(context.Background(), "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.Status != StatusPending {
		t.Errorf("status = %q, want pending", e.Status)
	}
	if e.Priority != PriorityHigh {
		t.Errorf("priority = %q, want high", e.Priority)
	}
	if e.Reason != "possible cardiac symptoms" {
		t.Errorf("reason = %q", e.Reason)
	}
	if e.Snapshot == nil || e.Snapshot.PatientName != "Alice Tan" {
		t.Fatalf("snapshot = %+v", e.Snapshot)
	}
	for _, it := range e.Snapshot.Items {
		if it.Status == memory.StatusCorrected {
			t.Error("snapshot must exclude corrected items")
		}
	}
	if len(e.Summary) == 0 || e.Summary[0] != "possible cardiac symptoms" {
		t.Errorf("summary = %v", e.Summary)
	}
	if e.TriggeringMessageID != "m-1" {
		t.Errorf("triggering message = %q, want m-1", e.TriggeringMessageID)
	}

	conv, _, _ := f.chats.GetConversation(context.Background(), "conv-1")
	if conv.Status != chat.ConversationEscalated {
		t.Errorf("conversation status = %q, want escalated", conv.Status)
	}
	if len(f.notifier.calls) != 1 {
		t.Errorf("notifier calls = %d, want 1", len(f.notifier.calls))
	}
}

func TestCreate_DefaultPriority(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.chats.messages["conv-1"] = []chat.Message{
		{ID: "m-1", ConversationID: "conv-1", Sender: chat.SenderPatient,
			Content: "can someone check this?", RiskLevel: "low", CreatedAt: time.Now().UTC()},
	}

	e, err := f.svc.Create(context.Background(), "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.Priority != PriorityMedium {
		t.Errorf("priority = %q, want medium", e.Priority)
	}
	if e.Reason != "patient requested clinician review" {
		t.Errorf("reason = %q", e.Reason)
	}
}

func TestCreate_SecondEscalationRejected(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if _, err := f.svc.Create(context.Background(), "conv-1", "pat-1"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), "conv-1", "pat-1"); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("err = %v, want ErrAlreadyOpen", err)
	}
}

func TestCreate_Guards(t *testing.T) {
	t.Parallel()

	f := newFixture()

	if _, err := f.svc.Create(context.Background(), "missing", "pat-1"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("missing: err = %v", err)
	}
	if _, err := f.svc.Create(context.Background(), "conv-1", "pat-2"); !errors.Is(err, chat.ErrNotOwner) {
		t.Errorf("not owner: err = %v", err)
	}
}

// Resolving frees the conversation for a fresh hand-off: a second
// Create after Resolve succeeds and re-escalates the closed
// conversation.
func TestCreate_AfterResolveSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := f.svc.Resolve(ctx, first.ID, "all clear"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	conv, _, _ := f.chats.GetConversation(ctx, "conv-1")
	if conv.Status != chat.ConversationClosed {
		t.Fatalf("conversation after resolve = %q, want closed", conv.Status)
	}

	second, err := f.svc.Create(ctx, "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create after resolve: %v", err)
	}
	if second.ID == first.ID {
		t.Error("second escalation reused the first ID")
	}
	if second.Status != StatusPending {
		t.Errorf("status = %q, want pending", second.Status)
	}

	conv, _, _ = f.chats.GetConversation(ctx, "conv-1")
	if conv.Status != chat.ConversationEscalated {
		t.Errorf("conversation = %q, want escalated again", conv.Status)
	}
	got, _, _ := f.store.GetEscalation(ctx, first.ID)
	if got.Status != StatusResolved {
		t.Errorf("first escalation = %q, want still resolved", got.Status)
	}
}

// A failed insert must not leave the conversation stuck in the
// escalated state with no record behind it.
func TestCreate_InsertFailureLeavesConversationOpen(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	f.store.insertErr = errors.New("connection reset")

	if _, err := f.svc.Create(ctx, "conv-1", "pat-1"); err == nil {
		t.Fatal("Create succeeded despite store failure")
	}
	conv, _, _ := f.chats.GetConversation(ctx, "conv-1")
	if conv.Status != chat.ConversationActive {
		t.Errorf("conversation = %q, want active", conv.Status)
	}
	if _, open, _ := f.store.OpenByConversation(ctx, "conv-1"); open {
		t.Error("open escalation recorded despite store failure")
	}
}

func TestGet_MarksViewed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	created, err := f.svc.Create(context.Background(), "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := f.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusViewed {
		t.Errorf("status = %q, want viewed", got.Status)
	}

	// Idempotent on re-read.
	again, err := f.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if again.Status != StatusViewed {
		t.Errorf("status after second get = %q, want viewed", again.Status)
	}

	if _, err := f.svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReply_RecordsGuidance(t *testing.T) {
	t.Parallel()

	f := newFixture()
	created, err := f.svc.Create(context.Background(), "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg, err := f.svc.Reply(context.Background(), created.ID, "Stop the ibuprofen and rest for two days.", "")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msg.Sender != chat.SenderClinician {
		t.Errorf("sender = %q, want clinician", msg.Sender)
	}

	e, _, _ := f.store.GetEscalation(context.Background(), created.ID)
	if e.Status != StatusInProgress {
		t.Errorf("status = %q, want in_progress", e.Status)
	}

	items, _ := f.memories.ActiveItems(context.Background(), "pat-1")
	var guidance *memory.Item
	for i := range items {
		if items[i].MemoryType == memory.TypeClinicianGuidance {
			guidance = &items[i]
		}
	}
	if guidance == nil {
		t.Fatal("clinician guidance item not recorded")
	}
	if guidance.ProvenanceMessageID != msg.ID {
		t.Errorf("provenance = %q, want %q", guidance.ProvenanceMessageID, msg.ID)
	}

	// Reply lands in the conversation for the patient's next poll.
	replies, _ := f.chats.ClinicianMessagesSince(context.Background(), "conv-1", created.CreatedAt.Add(-time.Second))
	if len(replies) != 1 {
		t.Errorf("clinician messages = %d, want 1", len(replies))
	}
}

func TestResolve_Terminal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	created, err := f.svc.Create(context.Background(), "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resolved, err := f.svc.Resolve(context.Background(), created.ID, "  advised rest, follow up in a week  ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.ResolvedAt == nil {
		t.Errorf("escalation = %+v, want resolved with timestamp", resolved)
	}
	if resolved.ResolutionNotes != "advised rest, follow up in a week" {
		t.Errorf("ResolutionNotes = %q, want trimmed notes", resolved.ResolutionNotes)
	}

	if _, err := f.svc.Resolve(context.Background(), created.ID, ""); !errors.Is(err, ErrResolved) {
		t.Errorf("second resolve: err = %v, want ErrResolved", err)
	}
	if _, err := f.svc.Reply(context.Background(), created.ID, "any update?", ""); !errors.Is(err, ErrResolved) {
		t.Errorf("reply after resolve: err = %v, want ErrResolved", err)
	}
}

func TestReply_AssignsFirstClinician(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	created, err := f.svc.Create(ctx, "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.Reply(ctx, created.ID, "Keep taking the amoxicillin.", "clin-1"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	e, _, _ := f.store.GetEscalation(ctx, created.ID)
	if e.AssignedClinicianID != "clin-1" {
		t.Errorf("assignee = %q, want clin-1", e.AssignedClinicianID)
	}

	// A colleague chiming in later does not steal the assignment.
	if _, err := f.svc.Reply(ctx, created.ID, "Agreed, and stay hydrated.", "clin-2"); err != nil {
		t.Fatalf("second Reply: %v", err)
	}
	e, _, _ = f.store.GetEscalation(ctx, created.ID)
	if e.AssignedClinicianID != "clin-1" {
		t.Errorf("assignee = %q, want clin-1 kept", e.AssignedClinicianID)
	}
}

func TestCreate_SummaryCapped(t *testing.T) {
	t.Parallel()

	f := newFixture()
	for i := 0; i < 10; i++ {
		f.memories.items = append(f.memories.items, memory.Item{
			ID: string(rune('a' + i)), PatientID: "pat-1",
			MemoryType: memory.TypeSymptom, Value: "symptom " + string(rune('a'+i)),
			Status: memory.StatusActive,
		})
	}

	e, err := f.svc.Create(context.Background(), "conv-1", "pat-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(e.Summary) != maxSummaryBullets {
		t.Errorf("summary bullets = %d, want %d", len(e.Summary), maxSummaryBullets)
	}
}

func TestCreate_NotifierFailureNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.notifier.err = errors.New("webhook 500")

	if _, err := f.svc.Create(context.Background(), "conv-1", "pat-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
}
