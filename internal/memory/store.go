package memory

import (
	"context"

	"github.com/linnemanlabs/go-core/xerrors"
)

var (
	// ErrDuplicateActive is returned by Store.InsertItem when another
	// active item already holds the same (patient, type, lower(value))
	// key.
	ErrDuplicateActive = xerrors.New("active memory item already exists")

	// ErrItemNotFound is returned by Store.UpdateItem for an unknown
	// item ID.
	ErrItemNotFound = xerrors.New("memory item not found")
)

// Store is the persistence interface for living-memory items.
type Store interface {
	// ActiveItems returns the patient's active items, oldest first.
	ActiveItems(ctx context.Context, patientID string) ([]Item, error)
	// ItemsByPatient returns all of the patient's items regardless of
	// status, oldest first.
	ItemsByPatient(ctx context.Context, patientID string) ([]Item, error)
	// FindActive looks up the active item matching the given type and
	// case-insensitive value.
	FindActive(ctx context.Context, patientID, memoryType, value string) (*Item, bool, error)
	InsertItem(ctx context.Context, item *Item) error
	UpdateItem(ctx context.Context, item *Item) error
}
