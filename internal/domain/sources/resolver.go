package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
)

// ErrNoSource is returned when no source record exists for a lookup. It is
// normal control flow for the engine, not a failure.
var ErrNoSource = errors.New("no source record")

// Object is the read-only view of one source record handed to rule
// predicates.
type Object interface {
	FormRef() schedule.FormRef
	// Field returns a value from the record's payload.
	Field(name string) (interface{}, bool)
	// Reported is the record's report datetime.
	Reported() time.Time
}

// Accessor looks up source records for one form. Implementations are bound
// to a FormRef at startup.
type Accessor interface {
	Exists(ctx context.Context, key metadata.VisitKey, panel string) (bool, error)
	// Get returns the source record, or ErrNoSource.
	Get(ctx context.Context, key metadata.VisitKey, panel string) (Object, error)
}

// Resolver binds form references to accessors. Bindings are registered once
// at process start; resolving an unbound reference is a configuration error
// surfaced to the caller.
type Resolver struct {
	mu        sync.RWMutex
	accessors map[schedule.FormRef]Accessor
}

func NewResolver() *Resolver {
	return &Resolver{accessors: make(map[schedule.FormRef]Accessor)}
}

// Bind registers the accessor for a form. Binding the same form twice is a
// configuration error.
func (r *Resolver) Bind(form schedule.FormRef, a Accessor) error {
	if form.IsZero() {
		return fmt.Errorf("cannot bind empty form reference")
	}
	if a == nil {
		return fmt.Errorf("nil accessor for %s", form)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accessors[form]; ok {
		return fmt.Errorf("accessor for %s already bound", form)
	}
	r.accessors[form] = a
	return nil
}

// Resolve returns the accessor bound to a form.
func (r *Resolver) Resolve(form schedule.FormRef) (Accessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accessors[form]
	if !ok {
		return nil, fmt.Errorf("no accessor bound for form %s", form)
	}
	return a, nil
}

// Exists reports whether a source record exists for (form, visit[, panel]).
func (r *Resolver) Exists(ctx context.Context, form schedule.FormRef, key metadata.VisitKey, panel string) (bool, error) {
	a, err := r.Resolve(form)
	if err != nil {
		return false, err
	}
	return a.Exists(ctx, key, panel)
}

// Get returns the source record for (form, visit[, panel]), or ErrNoSource.
func (r *Resolver) Get(ctx context.Context, form schedule.FormRef, key metadata.VisitKey, panel string) (Object, error) {
	a, err := r.Resolve(form)
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, key, panel)
}
