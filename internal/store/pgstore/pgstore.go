// Package pgstore provides a PostgreSQL implementation of the chat,
// memory, and escalation stores.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/carelink/internal/chat"
	"github.com/linnemanlabs/carelink/internal/escalation"
	"github.com/linnemanlabs/carelink/internal/memory"
)

var tracer = otel.Tracer("github.com/linnemanlabs/carelink/internal/store/pgstore")

//go:embed schema.sql
var schema string

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// Store persists pipeline state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The caller owns the pool and is responsible for closing it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// --- chat.Store ---

// GetPatient retrieves a patient by ID.
func (s *Store) GetPatient(ctx context.Context, id string) (*chat.Patient, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetPatient", "SELECT")
	defer span.End()

	var p chat.Patient
	err := s.pool.QueryRow(ctx,
		`SELECT id, clinic_id, first_name, last_name, created_at
		 FROM patients WHERE id = $1`, id,
	).Scan(&p.ID, &p.ClinicID, &p.FirstName, &p.LastName, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("select patient: %w", err))
	}
	return &p, true, nil
}

// UpsertPatient inserts or updates a patient.
func (s *Store) UpsertPatient(ctx context.Context, p *chat.Patient) error {
	ctx, span := startSpan(ctx, "pgstore.UpsertPatient", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO patients (id, clinic_id, first_name, last_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			clinic_id  = EXCLUDED.clinic_id,
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name`,
		p.ID, p.ClinicID, p.FirstName, p.LastName, p.CreatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert patient: %w", err))
	}
	return nil
}

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, c *chat.Conversation) error {
	ctx, span := startSpan(ctx, "pgstore.CreateConversation", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, patient_id, clinic_id, status, escalated_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.PatientID, c.ClinicID, string(c.Status), c.EscalatedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert conversation: %w", err))
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetConversation", "SELECT")
	defer span.End()

	var c chat.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, patient_id, clinic_id, status, escalated_at, created_at, updated_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.PatientID, &c.ClinicID, &c.Status, &c.EscalatedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("select conversation: %w", err))
	}
	return &c, true, nil
}

// UpdateConversation replaces the conversation's mutable fields.
func (s *Store) UpdateConversation(ctx context.Context, c *chat.Conversation) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateConversation", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2, escalated_at = $3, updated_at = $4 WHERE id = $1`,
		c.ID, string(c.Status), c.EscalatedAt, c.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update conversation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrConversationNotFound
	}
	return nil
}

// AppendMessage inserts a message.
func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	ctx, span := startSpan(ctx, "pgstore.AppendMessage", "INSERT")
	defer span.End()

	var citations []byte
	if len(m.Citations) > 0 {
		var err error
		citations, err = json.Marshal(m.Citations)
		if err != nil {
			return spanErr(span, fmt.Errorf("marshal citations: %w", err))
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, risk_level, risk_reason, risk_confidence, citations, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, string(m.Sender), m.Content,
		m.RiskLevel, m.RiskReason, m.RiskConfidence, citations, m.CreatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert message: %w", err))
	}
	return nil
}

const messageColumns = `id, conversation_id, sender, content, risk_level, risk_reason, risk_confidence, citations, created_at`

// RecentMessages returns up to limit of the newest messages, oldest
// first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	ctx, span := startSpan(ctx, "pgstore.RecentMessages", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 ) latest ORDER BY created_at ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query messages: %w", err))
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return msgs, nil
}

// ClinicianMessagesSince returns clinician messages created strictly
// after since, oldest first.
func (s *Store) ClinicianMessagesSince(ctx context.Context, conversationID string, since time.Time) ([]chat.Message, error) {
	ctx, span := startSpan(ctx, "pgstore.ClinicianMessagesSince", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND sender = $2 AND created_at > $3
		 ORDER BY created_at ASC, id ASC`,
		conversationID, string(chat.SenderClinician), since,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query clinician messages: %w", err))
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return msgs, nil
}

func scanMessages(rows pgx.Rows) ([]chat.Message, error) {
	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		var citations []byte
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content,
			&m.RiskLevel, &m.RiskReason, &m.RiskConfidence, &citations, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &m.Citations); err != nil {
				return nil, fmt.Errorf("unmarshal citations: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// --- memory.Store ---

const itemColumns = `id, patient_id, memory_type, value, status, timeline, provenance_message_id, provenance_timestamp, created_at, updated_at`

// ActiveItems returns the patient's active items, oldest first.
func (s *Store) ActiveItems(ctx context.Context, patientID string) ([]memory.Item, error) {
	ctx, span := startSpan(ctx, "pgstore.ActiveItems", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM memory_items
		 WHERE patient_id = $1 AND status = $2
		 ORDER BY created_at ASC, id ASC`,
		patientID, string(memory.StatusActive),
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query active items: %w", err))
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return items, nil
}

// ItemsByPatient returns all of the patient's items regardless of
// status, oldest first.
func (s *Store) ItemsByPatient(ctx context.Context, patientID string) ([]memory.Item, error) {
	ctx, span := startSpan(ctx, "pgstore.ItemsByPatient", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM memory_items
		 WHERE patient_id = $1
		 ORDER BY created_at ASC, id ASC`,
		patientID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query items: %w", err))
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return items, nil
}

// FindActive looks up the active item matching the given type and
// case-insensitive value.
func (s *Store) FindActive(ctx context.Context, patientID, memoryType, value string) (*memory.Item, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.FindActive", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM memory_items
		 WHERE patient_id = $1 AND memory_type = $2 AND lower(value) = lower($3) AND status = $4`,
		patientID, memoryType, value, string(memory.StatusActive),
	)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	return it, true, nil
}

// InsertItem inserts a memory item. A unique-index violation on the
// active key maps to memory.ErrDuplicateActive.
func (s *Store) InsertItem(ctx context.Context, item *memory.Item) error {
	ctx, span := startSpan(ctx, "pgstore.InsertItem", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_items (`+itemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.PatientID, item.MemoryType, item.Value, string(item.Status),
		item.Timeline, nullable(item.ProvenanceMessageID), item.ProvenanceTimestamp,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return memory.ErrDuplicateActive
		}
		return spanErr(span, fmt.Errorf("insert item: %w", err))
	}
	return nil
}

// UpdateItem replaces the item's mutable fields.
func (s *Store) UpdateItem(ctx context.Context, item *memory.Item) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateItem", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_items SET
			value = $2, status = $3, timeline = $4,
			provenance_message_id = $5, provenance_timestamp = $6, updated_at = $7
		 WHERE id = $1`,
		item.ID, item.Value, string(item.Status), item.Timeline,
		nullable(item.ProvenanceMessageID), item.ProvenanceTimestamp, item.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update item: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrItemNotFound
	}
	return nil
}

func scanItems(rows pgx.Rows) ([]memory.Item, error) {
	var out []memory.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (*memory.Item, error) {
	var it memory.Item
	var provenance *string
	err := row.Scan(&it.ID, &it.PatientID, &it.MemoryType, &it.Value, &it.Status,
		&it.Timeline, &provenance, &it.ProvenanceTimestamp, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	if provenance != nil {
		it.ProvenanceMessageID = *provenance
	}
	return &it, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- escalation.Store ---

const escalationColumns = `id, conversation_id, patient_id, clinic_id, status, priority, reason, triggering_message_id, assigned_clinician_id, summary, snapshot, created_at, updated_at, resolved_at, resolution_notes`

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// InsertEscalation inserts an escalation. A unique-index violation on
// the open-escalation key maps to escalation.ErrAlreadyOpen.
func (s *Store) InsertEscalation(ctx context.Context, e *escalation.Escalation) error {
	ctx, span := startSpan(ctx, "pgstore.InsertEscalation", "INSERT")
	defer span.End()

	if err := insertEscalation(ctx, s.pool, e); err != nil {
		if errors.Is(err, escalation.ErrAlreadyOpen) {
			return err
		}
		return spanErr(span, err)
	}
	return nil
}

// InsertEscalationWithConversation inserts the escalation and applies
// the conversation transition in one transaction. c may be nil when
// the conversation is already escalated; the insert then runs alone.
func (s *Store) InsertEscalationWithConversation(ctx context.Context, e *escalation.Escalation, c *chat.Conversation) error {
	if c == nil {
		return s.InsertEscalation(ctx, e)
	}

	ctx, span := startSpan(ctx, "pgstore.InsertEscalationWithConversation", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := insertEscalation(ctx, tx, e); err != nil {
		if errors.Is(err, escalation.ErrAlreadyOpen) {
			return err
		}
		return spanErr(span, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET status = $2, escalated_at = $3, updated_at = $4 WHERE id = $1`,
		c.ID, string(c.Status), c.EscalatedAt, c.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("escalate conversation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrConversationNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertEscalation(ctx context.Context, db execer, e *escalation.Escalation) error {
	summary, snapshot, err := marshalEscalationBlobs(e)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx,
		`INSERT INTO escalations (`+escalationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.ConversationID, e.PatientID, e.ClinicID,
		string(e.Status), string(e.Priority), e.Reason,
		nullable(e.TriggeringMessageID), nullable(e.AssignedClinicianID),
		summary, snapshot, e.CreatedAt, e.UpdatedAt, e.ResolvedAt, e.ResolutionNotes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return escalation.ErrAlreadyOpen
		}
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

// GetEscalation retrieves an escalation by ID.
func (s *Store) GetEscalation(ctx context.Context, id string) (*escalation.Escalation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetEscalation", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)
	e, err := scanEscalation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	return e, true, nil
}

// UpdateEscalation replaces the escalation's mutable fields.
func (s *Store) UpdateEscalation(ctx context.Context, e *escalation.Escalation) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateEscalation", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE escalations SET status = $2, assigned_clinician_id = $3, updated_at = $4, resolved_at = $5, resolution_notes = $6 WHERE id = $1`,
		e.ID, string(e.Status), nullable(e.AssignedClinicianID), e.UpdatedAt, e.ResolvedAt, e.ResolutionNotes,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update escalation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return escalation.ErrNotFound
	}
	return nil
}

// OpenByConversation returns the conversation's open escalation, if
// any.
func (s *Store) OpenByConversation(ctx context.Context, conversationID string) (*escalation.Escalation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.OpenByConversation", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+escalationColumns+` FROM escalations
		 WHERE conversation_id = $1 AND status <> $2`,
		conversationID, string(escalation.StatusResolved),
	)
	e, err := scanEscalation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	return e, true, nil
}

// QueueByClinic returns the clinic's unresolved escalations, highest
// priority first, oldest first within a priority.
func (s *Store) QueueByClinic(ctx context.Context, clinicID string) ([]escalation.Escalation, error) {
	ctx, span := startSpan(ctx, "pgstore.QueueByClinic", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+escalationColumns+` FROM escalations
		 WHERE clinic_id = $1 AND status <> $2
		 ORDER BY CASE priority
			WHEN 'urgent' THEN 3
			WHEN 'high'   THEN 2
			WHEN 'medium' THEN 1
			ELSE 0
		 END DESC, created_at ASC`,
		clinicID, string(escalation.StatusResolved),
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query queue: %w", err))
	}
	defer rows.Close()

	var out []escalation.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate queue: %w", err))
	}
	return out, nil
}

// ResolveWithConversation marks the escalation resolved and closes its
// conversation in one transaction.
func (s *Store) ResolveWithConversation(ctx context.Context, e *escalation.Escalation, c *chat.Conversation) error {
	ctx, span := startSpan(ctx, "pgstore.ResolveWithConversation", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE escalations SET status = $2, assigned_clinician_id = $3, updated_at = $4, resolved_at = $5, resolution_notes = $6 WHERE id = $1`,
		e.ID, string(e.Status), nullable(e.AssignedClinicianID), e.UpdatedAt, e.ResolvedAt, e.ResolutionNotes,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("resolve escalation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return escalation.ErrNotFound
	}

	tag, err = tx.Exec(ctx,
		`UPDATE conversations SET status = $2, updated_at = $3 WHERE id = $1`,
		c.ID, string(c.Status), c.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("close conversation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrConversationNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func marshalEscalationBlobs(e *escalation.Escalation) (summary, snapshot []byte, err error) {
	if len(e.Summary) > 0 {
		summary, err = json.Marshal(e.Summary)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal summary: %w", err)
		}
	}
	if e.Snapshot != nil {
		snapshot, err = json.Marshal(e.Snapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal snapshot: %w", err)
		}
	}
	return summary, snapshot, nil
}

func scanEscalation(row pgx.Row) (*escalation.Escalation, error) {
	var e escalation.Escalation
	var summary, snapshot []byte
	var triggering, assigned *string
	err := row.Scan(&e.ID, &e.ConversationID, &e.PatientID, &e.ClinicID,
		&e.Status, &e.Priority, &e.Reason, &triggering, &assigned, &summary, &snapshot,
		&e.CreatedAt, &e.UpdatedAt, &e.ResolvedAt, &e.ResolutionNotes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan escalation: %w", err)
	}
	if triggering != nil {
		e.TriggeringMessageID = *triggering
	}
	if assigned != nil {
		e.AssignedClinicianID = *assigned
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &e.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	if len(snapshot) > 0 {
		e.Snapshot = &escalation.Snapshot{}
		if err := json.Unmarshal(snapshot, e.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	return &e, nil
}
