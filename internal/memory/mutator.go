package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// correctedTimeline is the default corrective note recorded when a
// patient retracts a fact.
const correctedTimeline = "corrected by patient"

// Mutator applies extracted facts against a patient's fact store.
// The lookup-then-mutate sequence is serialized per patient, so two
// concurrent messages from the same patient cannot both insert what
// should be a single active fact.
type Mutator struct {
	store  Store
	logger log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // patient ID -> mutation lock
}

// NewMutator creates a mutator over the given store.
func NewMutator(store Store, logger log.Logger) *Mutator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Mutator{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Mutator) patientLock(patientID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[patientID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[patientID] = l
	}
	return l
}

// Apply runs each fact against the patient's existing items and returns
// the items actually created or changed, each with provenance pointing
// at the originating message.
func (m *Mutator) Apply(ctx context.Context, patientID string, facts []Fact, originMessageID string) ([]Item, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	l := m.patientLock(patientID)
	l.Lock()
	defer l.Unlock()

	var touched []Item
	for _, f := range facts {
		var (
			item *Item
			err  error
		)
		switch f.Action {
		case ActionAdd:
			item, err = m.applyAdd(ctx, patientID, f, originMessageID)
		case ActionUpdate:
			item, err = m.applyUpdate(ctx, patientID, f, originMessageID)
		case ActionRemove:
			item, err = m.applyRemove(ctx, patientID, f, originMessageID)
		default:
			continue
		}
		if err != nil {
			return touched, err
		}
		if item != nil {
			touched = append(touched, *item)
		}
	}
	return touched, nil
}

// applyAdd inserts a new item unless an active duplicate exists.
func (m *Mutator) applyAdd(ctx context.Context, patientID string, f Fact, originMessageID string) (*Item, error) {
	if _, ok, err := m.store.FindActive(ctx, patientID, f.Type, f.Value); err != nil {
		return nil, err
	} else if ok {
		m.logger.Info(ctx, "duplicate active fact suppressed", "patient_id", patientID, "memory_type", f.Type)
		return nil, nil
	}

	status := f.Status
	if status == "" {
		status = StatusActive
	}

	now := time.Now().UTC()
	item := &Item{
		ID:                  ulid.Make().String(),
		PatientID:           patientID,
		MemoryType:          f.Type,
		Value:               f.Value,
		Status:              status,
		Timeline:            f.Timeline,
		ProvenanceMessageID: originMessageID,
		ProvenanceTimestamp: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.store.InsertItem(ctx, item); err != nil {
		// A concurrent writer on another replica won the race; the
		// fact is already recorded, so treat it as the duplicate case.
		if errors.Is(err, ErrDuplicateActive) {
			m.logger.Info(ctx, "duplicate active fact suppressed on insert", "patient_id", patientID, "memory_type", f.Type)
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// applyUpdate transitions the matching active item's status. Updates
// with no matching active item are dropped silently.
func (m *Mutator) applyUpdate(ctx context.Context, patientID string, f Fact, originMessageID string) (*Item, error) {
	item, ok, err := m.store.FindActive(ctx, patientID, f.Type, f.matchValue())
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Info(ctx, "update dropped, no matching active fact", "patient_id", patientID, "memory_type", f.Type)
		return nil, nil
	}

	status := f.Status
	if status == "" {
		status = StatusStopped
	}
	item.Status = status
	if f.Timeline != "" {
		item.Timeline = f.Timeline
	}
	m.stamp(item, originMessageID)

	if err := m.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// applyRemove marks the matching active item corrected. Removes with no
// matching active item are dropped silently.
func (m *Mutator) applyRemove(ctx context.Context, patientID string, f Fact, originMessageID string) (*Item, error) {
	item, ok, err := m.store.FindActive(ctx, patientID, f.Type, f.matchValue())
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Info(ctx, "remove dropped, no matching active fact", "patient_id", patientID, "memory_type", f.Type)
		return nil, nil
	}

	item.Status = StatusCorrected
	item.Timeline = correctedTimeline
	m.stamp(item, originMessageID)

	if err := m.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (m *Mutator) stamp(item *Item, originMessageID string) {
	now := time.Now().UTC()
	item.ProvenanceMessageID = originMessageID
	item.ProvenanceTimestamp = &now
	item.UpdatedAt = now
}

// matchValue is the value an update/remove fact targets: the previous
// value when the patient names one, otherwise the fact's own value.
func (f Fact) matchValue() string {
	if f.PreviousValue != "" {
		return f.PreviousValue
	}
	return f.Value
}
