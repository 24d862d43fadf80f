package crf

import (
	"context"
	"errors"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
)

var ErrNotFound = errors.New("submission not found")

type SubmissionRepository interface {
	// Upsert creates the submission or, when one exists for the same
	// natural key, replaces its payload and report datetime.
	Upsert(ctx context.Context, s *Submission) error
	Get(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (*Submission, error)
	Exists(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (bool, error)
	Delete(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) error
	ListForVisit(ctx context.Context, key metadata.VisitKey) ([]*Submission, error)
}
