package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/platform/db"
)

// MetadataEngine is the slice of the metadata engine the visit service
// drives. Declared here so the visit package does not import the engine
// package; main wires the engine service in.
type MetadataEngine interface {
	CreateForVisit(ctx context.Context, v *Visit, updateKeyed bool) error
	DeleteForVisit(ctx context.Context, v *Visit) (int, error)
	RunRules(ctx context.Context, v *Visit) error
}

type Service struct {
	repo   Repository
	lookup schedule.Lookup
	engine MetadataEngine
	pool   *pgxpool.Pool
	log    zerolog.Logger
}

func NewService(repo Repository, lookup schedule.Lookup, engine MetadataEngine, pool *pgxpool.Pool, log zerolog.Logger) *Service {
	return &Service{repo: repo, lookup: lookup, engine: engine, pool: pool, log: log}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, s.pool, fn)
}

// CreateVisit persists a visit instance and provisions (or tears down) its
// metadata in the same transaction.
func (s *Service) CreateVisit(ctx context.Context, v *Visit) error {
	if v.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if !v.Reason.Valid() {
		return fmt.Errorf("invalid visit reason: %s", v.Reason)
	}
	if v.VisitCodeSequence < 0 {
		return fmt.Errorf("visit_code_sequence must be >= 0")
	}
	sched, err := s.lookup.GetSchedule(v.ScheduleName)
	if err != nil {
		return fmt.Errorf("unknown schedule %s: %w", v.ScheduleName, err)
	}
	if _, err := s.lookup.GetVisit(v.ScheduleName, v.VisitCode); err != nil {
		return fmt.Errorf("visit code %s is not in schedule %s: %w", v.VisitCode, v.ScheduleName, err)
	}
	v.VisitScheduleName = sched.VisitScheduleName

	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, v); err != nil {
			return err
		}
		return s.applyReason(ctx, v)
	})
}

// ChangeReason reclassifies a visit. Changing to MISSED expects a full
// metadata delete, so a KEYED record with a live source aborts the change;
// changing back to SCHEDULED recreates the full set with defaults.
func (s *Service) ChangeReason(ctx context.Context, id uuid.UUID, reason Reason) (*Visit, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("invalid visit reason: %s", reason)
	}
	var out *Visit
	err := s.inTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if v.Reason == reason {
			out = v
			return nil
		}
		v.Reason = reason
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		if err := s.applyReason(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// applyReason maps the visit's reason to metadata semantics.
func (s *Service) applyReason(ctx context.Context, v *Visit) error {
	switch {
	case v.Reason == ReasonMissed:
		// full teardown, then the reduced missed-visit set
		if _, err := s.engine.DeleteForVisit(ctx, v); err != nil {
			return err
		}
		return s.engine.CreateForVisit(ctx, v, false)
	case v.Reason.CreatesMetadata():
		return s.engine.CreateForVisit(ctx, v, true)
	default:
		_, err := s.engine.DeleteForVisit(ctx, v)
		return err
	}
}

// DeleteVisit removes the visit and its metadata. The engine's KEYED guard
// aborts the delete while keyed source records remain.
func (s *Service) DeleteVisit(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.engine.DeleteForVisit(ctx, v); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id)
	})
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListVisits(ctx context.Context, subjectID string, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListBySubject(ctx, subjectID, limit, offset)
}
