package crf

import (
	"context"
	"errors"
	"time"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
)

// object adapts a Submission to the read-only view rule predicates see.
type object struct{ s *Submission }

func (o object) FormRef() schedule.FormRef             { return o.s.Form }
func (o object) Field(name string) (interface{}, bool) { return o.s.Field(name) }
func (o object) Reported() time.Time                   { return o.s.ReportDatetime }

// accessor exposes one form's submissions to the source resolver.
type accessor struct {
	repo SubmissionRepository
	form schedule.FormRef
}

// NewAccessor returns a source accessor for the given form, backed by the
// submission repository. Bind one per scheduled form at startup.
func NewAccessor(repo SubmissionRepository, form schedule.FormRef) sources.Accessor {
	return &accessor{repo: repo, form: form}
}

func (a *accessor) Exists(ctx context.Context, key metadata.VisitKey, panel string) (bool, error) {
	return a.repo.Exists(ctx, key, a.form, panel)
}

func (a *accessor) Get(ctx context.Context, key metadata.VisitKey, panel string) (sources.Object, error) {
	s, err := a.repo.Get(ctx, key, a.form, panel)
	if errors.Is(err, ErrNotFound) {
		return nil, sources.ErrNoSource
	}
	if err != nil {
		return nil, err
	}
	return object{s: s}, nil
}
