package metadata

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/edc/edc/internal/domain/schedule"
)

// ErrNotFound is returned when no metadata record matches a lookup. Callers
// treat it as normal control flow, not a failure.
var ErrNotFound = errors.New("metadata record not found")

type CrfMetadataRepository interface {
	// GetOrCreate inserts m unless a record with the same natural key
	// exists, in which case the existing record is returned. The bool is
	// true when a new record was created.
	GetOrCreate(ctx context.Context, m *CrfMetadata) (*CrfMetadata, bool, error)
	Get(ctx context.Context, key VisitKey, form schedule.FormRef) (*CrfMetadata, error)
	Update(ctx context.Context, m *CrfMetadata) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListForVisit(ctx context.Context, key VisitKey) ([]*CrfMetadata, error)
	// DeleteForVisitExcept removes all records for a visit instance whose
	// entry status is not in keep, returning the number removed.
	DeleteForVisitExcept(ctx context.Context, key VisitKey, keep ...EntryStatus) (int, error)
	// BulkSetStatusForVisit flips every non-KEYED record for the visit to
	// the given status in one statement.
	BulkSetStatusForVisit(ctx context.Context, key VisitKey, status EntryStatus) (int, error)
	// NextRequired returns the first REQUIRED record for the visit with
	// show_order greater than afterShowOrder.
	NextRequired(ctx context.Context, key VisitKey, afterShowOrder int) (*CrfMetadata, error)
	ListByStatus(ctx context.Context, subjectID string, status EntryStatus, limit, offset int) ([]*CrfMetadata, int, error)
}

type RequisitionMetadataRepository interface {
	GetOrCreate(ctx context.Context, m *RequisitionMetadata) (*RequisitionMetadata, bool, error)
	Get(ctx context.Context, key VisitKey, form schedule.FormRef, panel string) (*RequisitionMetadata, error)
	Update(ctx context.Context, m *RequisitionMetadata) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListForVisit(ctx context.Context, key VisitKey) ([]*RequisitionMetadata, error)
	DeleteForVisitExcept(ctx context.Context, key VisitKey, keep ...EntryStatus) (int, error)
	BulkSetStatusForVisit(ctx context.Context, key VisitKey, status EntryStatus) (int, error)
	ListByStatus(ctx context.Context, subjectID string, status EntryStatus, limit, offset int) ([]*RequisitionMetadata, int, error)
}
