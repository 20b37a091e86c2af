// Package memstore provides an in-memory implementation of the chat,
// memory, and escalation stores. Suitable for dev/testing.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/carelink/internal/chat"
	"github.com/linnemanlabs/carelink/internal/escalation"
	"github.com/linnemanlabs/carelink/internal/memory"
)

// Store holds all pipeline state in memory behind one lock, which also
// makes ResolveWithConversation trivially atomic.
type Store struct {
	mu            sync.RWMutex
	patients      map[string]*chat.Patient
	conversations map[string]*chat.Conversation
	messages      map[string][]chat.Message // conversation ID -> messages, append order
	items         map[string][]memory.Item  // patient ID -> items, insert order
	escalations   map[string]*escalation.Escalation
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		patients:      make(map[string]*chat.Patient),
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]chat.Message),
		items:         make(map[string][]memory.Item),
		escalations:   make(map[string]*escalation.Escalation),
	}
}

// --- chat.Store ---

// GetPatient retrieves a patient by ID. Returns a copy.
func (s *Store) GetPatient(_ context.Context, id string) (*chat.Patient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

// UpsertPatient stores a copy of the patient.
func (s *Store) UpsertPatient(_ context.Context, p *chat.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.patients[p.ID] = &cp
	return nil
}

// CreateConversation stores a copy of the conversation.
func (s *Store) CreateConversation(_ context.Context, c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

// GetConversation retrieves a conversation by ID. Returns a copy.
func (s *Store) GetConversation(_ context.Context, id string) (*chat.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

// UpdateConversation replaces the stored conversation.
func (s *Store) UpdateConversation(_ context.Context, c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; !ok {
		return chat.ErrConversationNotFound
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

// AppendMessage appends a copy of the message to its conversation.
func (s *Store) AppendMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

// RecentMessages returns up to limit of the newest messages, oldest
// first.
func (s *Store) RecentMessages(_ context.Context, conversationID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// ClinicianMessagesSince returns clinician messages created strictly
// after since, oldest first.
func (s *Store) ClinicianMessagesSince(_ context.Context, conversationID string, since time.Time) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.Message
	for _, m := range s.messages[conversationID] {
		if m.Sender == chat.SenderClinician && m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- memory.Store ---

// ActiveItems returns the patient's active items, oldest first.
func (s *Store) ActiveItems(_ context.Context, patientID string) ([]memory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []memory.Item
	for _, it := range s.items[patientID] {
		if it.Status == memory.StatusActive {
			out = append(out, it)
		}
	}
	return out, nil
}

// ItemsByPatient returns all of the patient's items regardless of
// status, oldest first.
func (s *Store) ItemsByPatient(_ context.Context, patientID string) ([]memory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items[patientID]
	out := make([]memory.Item, len(items))
	copy(out, items)
	return out, nil
}

// FindActive looks up the active item matching the given type and
// case-insensitive value.
func (s *Store) FindActive(_ context.Context, patientID, memoryType, value string) (*memory.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.findActiveLocked(patientID, memoryType, value)
	if !ok {
		return nil, false, nil
	}
	cp := *it
	return &cp, true, nil
}

// InsertItem appends a copy of the item. Inserting a second active
// item for the same (patient, type, value) fails with
// memory.ErrDuplicateActive.
func (s *Store) InsertItem(_ context.Context, item *memory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Status == memory.StatusActive {
		if _, ok := s.findActiveLocked(item.PatientID, item.MemoryType, item.Value); ok {
			return memory.ErrDuplicateActive
		}
	}
	s.items[item.PatientID] = append(s.items[item.PatientID], *item)
	return nil
}

// UpdateItem replaces the stored item in place.
func (s *Store) UpdateItem(_ context.Context, item *memory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[item.PatientID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = *item
			return nil
		}
	}
	return memory.ErrItemNotFound
}

func (s *Store) findActiveLocked(patientID, memoryType, value string) (*memory.Item, bool) {
	items := s.items[patientID]
	for i := range items {
		it := &items[i]
		if it.MemoryType == memoryType && it.Status == memory.StatusActive &&
			strings.EqualFold(it.Value, value) {
			return it, true
		}
	}
	return nil, false
}

// --- escalation.Store ---

// InsertEscalation stores a copy of the escalation.
func (s *Store) InsertEscalation(_ context.Context, e *escalation.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEscalationLocked(e)
}

// InsertEscalationWithConversation stores the escalation and the
// conversation transition under one lock. c may be nil when the
// conversation is already escalated. A rejected insert leaves the
// conversation untouched.
func (s *Store) InsertEscalationWithConversation(_ context.Context, e *escalation.Escalation, c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		if _, ok := s.conversations[c.ID]; !ok {
			return chat.ErrConversationNotFound
		}
	}
	if err := s.insertEscalationLocked(e); err != nil {
		return err
	}
	if c != nil {
		cp := *c
		s.conversations[c.ID] = &cp
	}
	return nil
}

func (s *Store) insertEscalationLocked(e *escalation.Escalation) error {
	for _, other := range s.escalations {
		if other.ConversationID == e.ConversationID && other.Open() {
			return escalation.ErrAlreadyOpen
		}
	}
	cp := *e
	s.escalations[e.ID] = &cp
	return nil
}

// GetEscalation retrieves an escalation by ID. Returns a copy.
func (s *Store) GetEscalation(_ context.Context, id string) (*escalation.Escalation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escalations[id]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

// UpdateEscalation replaces the stored escalation.
func (s *Store) UpdateEscalation(_ context.Context, e *escalation.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ID]; !ok {
		return escalation.ErrNotFound
	}
	cp := *e
	s.escalations[e.ID] = &cp
	return nil
}

// OpenByConversation returns the conversation's open escalation, if
// any.
func (s *Store) OpenByConversation(_ context.Context, conversationID string) (*escalation.Escalation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.escalations {
		if e.ConversationID == conversationID && e.Open() {
			cp := *e
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// QueueByClinic returns the clinic's unresolved escalations, highest
// priority first, oldest first within a priority.
func (s *Store) QueueByClinic(_ context.Context, clinicID string) ([]escalation.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.Escalation
	for _, e := range s.escalations {
		if e.ClinicID == clinicID && e.Open() {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ResolveWithConversation stores both updates under one lock.
func (s *Store) ResolveWithConversation(_ context.Context, e *escalation.Escalation, c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ID]; !ok {
		return escalation.ErrNotFound
	}
	if _, ok := s.conversations[c.ID]; !ok {
		return chat.ErrConversationNotFound
	}
	ecp := *e
	ccp := *c
	s.escalations[e.ID] = &ecp
	s.conversations[c.ID] = &ccp
	return nil
}
