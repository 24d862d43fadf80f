package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/edc/edc/internal/domain/metadata"
)

var ErrNotFound = errors.New("visit not found")

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetByKey(ctx context.Context, key metadata.VisitKey) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Visit, int, error)
}
