package crf

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/domain/engine"
	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/visit"
	"github.com/edc/edc/internal/platform/db"
)

// MetadataUpdater is the slice of the metadata engine the submission
// service drives after its own persistence.
type MetadataUpdater interface {
	OnFormSaved(ctx context.Context, v *visit.Visit, b engine.MetadataBinding) error
	OnFormDeleted(ctx context.Context, v *visit.Visit, b engine.MetadataBinding) error
}

type Service struct {
	repo    SubmissionRepository
	visits  visit.Repository
	lookup  schedule.Lookup
	updater MetadataUpdater
	pool    *pgxpool.Pool
	log     zerolog.Logger
}

func NewService(
	repo SubmissionRepository,
	visits visit.Repository,
	lookup schedule.Lookup,
	updater MetadataUpdater,
	pool *pgxpool.Pool,
	log zerolog.Logger,
) *Service {
	return &Service{repo: repo, visits: visits, lookup: lookup, updater: updater, pool: pool, log: log}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, s.pool, fn)
}

// resolveKey fills the visit-schedule name from the schedule registry when
// the caller supplied only the schedule name.
func (s *Service) resolveKey(key metadata.VisitKey) (metadata.VisitKey, error) {
	if key.VisitScheduleName != "" {
		return key, nil
	}
	sched, err := s.lookup.GetSchedule(key.ScheduleName)
	if err != nil {
		return key, fmt.Errorf("unknown schedule %s: %w", key.ScheduleName, err)
	}
	key.VisitScheduleName = sched.VisitScheduleName
	return key, nil
}

// Save upserts a submission and flips its metadata record to KEYED in the
// same transaction. The visit instance must already exist; submissions do
// not create visits.
func (s *Service) Save(ctx context.Context, sub *Submission) error {
	if sub.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if sub.Form.IsZero() {
		return fmt.Errorf("form reference is required")
	}
	if sub.ReportDatetime.IsZero() {
		sub.ReportDatetime = time.Now().UTC()
	}
	key, err := s.resolveKey(sub.VisitKey)
	if err != nil {
		return err
	}
	sub.VisitKey = key

	v, err := s.visits.GetByKey(ctx, sub.VisitKey)
	if err != nil {
		return fmt.Errorf("no visit instance %s: %w", sub.VisitKey, err)
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Upsert(ctx, sub); err != nil {
			return err
		}
		return s.updater.OnFormSaved(ctx, v, engine.MetadataBinding{
			Form:           sub.Form,
			PanelName:      sub.PanelName,
			ReportDatetime: sub.ReportDatetime,
		})
	})
}

// Delete removes a submission and resets its metadata record to the
// schedule default. The source row is deleted before the engine runs so
// dependent rules evaluate against its absence.
func (s *Service) Delete(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) error {
	key, err := s.resolveKey(key)
	if err != nil {
		return err
	}

	v, err := s.visits.GetByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("no visit instance %s: %w", key, err)
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, key, form, panel); err != nil {
			return err
		}
		return s.updater.OnFormDeleted(ctx, v, engine.MetadataBinding{
			Form:      form,
			PanelName: panel,
		})
	})
}

func (s *Service) Get(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (*Submission, error) {
	key, err := s.resolveKey(key)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, key, form, panel)
}

func (s *Service) ListForVisit(ctx context.Context, key metadata.VisitKey) ([]*Submission, error) {
	key, err := s.resolveKey(key)
	if err != nil {
		return nil, err
	}
	return s.repo.ListForVisit(ctx, key)
}
