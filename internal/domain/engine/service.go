package engine

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/rules"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
	"github.com/edc/edc/internal/domain/visit"
	"github.com/edc/edc/internal/platform/db"
)

// Service is the metadata engine's call surface. Every mutating operation
// runs inside one transaction so a reader never observes a partially
// provisioned visit.
type Service struct {
	pool         *pgxpool.Pool
	lookup       schedule.Lookup
	crfs         metadata.CrfMetadataRepository
	requisitions metadata.RequisitionMetadataRepository
	creator      *Creator
	destroyer    *Destroyer
	updater      *Updater
	runner       *rules.Runner
	log          zerolog.Logger
}

func NewService(
	pool *pgxpool.Pool,
	lookup schedule.Lookup,
	crfs metadata.CrfMetadataRepository,
	requisitions metadata.RequisitionMetadataRepository,
	resolver *sources.Resolver,
	registry *rules.Registry,
	log zerolog.Logger,
) *Service {
	runner := rules.NewRunner(registry, crfs, requisitions, resolver, log)
	return &Service{
		pool:         pool,
		lookup:       lookup,
		crfs:         crfs,
		requisitions: requisitions,
		creator:      NewCreator(lookup, crfs, requisitions, resolver, log),
		destroyer:    NewDestroyer(crfs, requisitions, resolver, log),
		updater:      NewUpdater(lookup, crfs, requisitions, runner, log),
		runner:       runner,
		log:          log,
	}
}

// inTx wraps fn in a transaction. With no pool configured (unit tests over
// in-memory repositories) fn runs directly.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, s.pool, fn)
}

// CreateForVisit provisions the metadata set for a visit instance and then
// applies every rule scoped to its app.
func (s *Service) CreateForVisit(ctx context.Context, v *visit.Visit, updateKeyed bool) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.creator.Create(ctx, v, updateKeyed); err != nil {
			return err
		}
		return s.runner.RunAll(ctx, v)
	})
}

// DeleteForVisit removes the visit's metadata, honoring the KEYED guard.
func (s *Service) DeleteForVisit(ctx context.Context, v *visit.Visit) (int, error) {
	var count int
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.destroyer.Delete(ctx, v)
		return err
	})
	return count, err
}

// RunRules re-evaluates every rule for the visit.
func (s *Service) RunRules(ctx context.Context, v *visit.Visit) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.runner.RunAll(ctx, v)
	})
}

// OnFormSaved is called by the form-event handler after its own persistence,
// inside the same transaction when the caller already opened one.
func (s *Service) OnFormSaved(ctx context.Context, v *visit.Visit, b MetadataBinding) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.updater.OnFormSaved(ctx, v, b)
	})
}

// OnFormDeleted resets the form's metadata and recomputes dependent rules.
func (s *Service) OnFormDeleted(ctx context.Context, v *visit.Visit, b MetadataBinding) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.updater.OnFormDeleted(ctx, v, b)
	})
}

// MarkVisitNotRequired flips every non-KEYED record of the visit to
// NOT_REQUIRED in one atomic statement.
func (s *Service) MarkVisitNotRequired(ctx context.Context, v *visit.Visit) (int, error) {
	var count int
	err := s.inTx(ctx, func(ctx context.Context) error {
		n, err := s.crfs.BulkSetStatusForVisit(ctx, v.Key(), metadata.StatusNotRequired)
		if err != nil {
			return err
		}
		count = n
		n, err = s.requisitions.BulkSetStatusForVisit(ctx, v.Key(), metadata.StatusNotRequired)
		if err != nil {
			return err
		}
		count += n
		return nil
	})
	return count, err
}

// -- query surface (pure reads) --

// ListForVisit returns the visit's CRF and requisition metadata in show
// order.
func (s *Service) ListForVisit(ctx context.Context, key metadata.VisitKey) ([]*metadata.CrfMetadata, []*metadata.RequisitionMetadata, error) {
	crfs, err := s.crfs.ListForVisit(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	reqs, err := s.requisitions.ListForVisit(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return crfs, reqs, nil
}

// NextRequired drives sequential data entry: the first REQUIRED CRF after
// the given show order, or metadata.ErrNotFound.
func (s *Service) NextRequired(ctx context.Context, key metadata.VisitKey, afterShowOrder int) (*metadata.CrfMetadata, error) {
	return s.crfs.NextRequired(ctx, key, afterShowOrder)
}

// ListCrfsByStatus lists a subject's CRF metadata in one entry status.
func (s *Service) ListCrfsByStatus(ctx context.Context, subjectID string, status metadata.EntryStatus, limit, offset int) ([]*metadata.CrfMetadata, int, error) {
	return s.crfs.ListByStatus(ctx, subjectID, status, limit, offset)
}

// ListRequisitionsByStatus lists a subject's requisition metadata in one
// entry status.
func (s *Service) ListRequisitionsByStatus(ctx context.Context, subjectID string, status metadata.EntryStatus, limit, offset int) ([]*metadata.RequisitionMetadata, int, error) {
	return s.requisitions.ListByStatus(ctx, subjectID, status, limit, offset)
}

// Lookup exposes the schedule lookup for callers that resolve visit keys.
func (s *Service) Lookup() schedule.Lookup { return s.lookup }
