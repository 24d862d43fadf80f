package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/rules"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/visit"
)

// MetadataBinding carries the identity a source-form event needs to reach
// its own metadata record: the form reference, the panel name for
// requisitions, and the form's report datetime. Form handlers construct one
// and call the engine directly; there is no inheritance or signal plumbing.
type MetadataBinding struct {
	Form           schedule.FormRef
	PanelName      string
	ReportDatetime time.Time
}

// Updater reconciles a form's own metadata record with source-form events
// and cascades rule re-evaluation to dependent targets.
type Updater struct {
	lookup       schedule.Lookup
	crfs         metadata.CrfMetadataRepository
	requisitions metadata.RequisitionMetadataRepository
	runner       *rules.Runner
	log          zerolog.Logger
}

func NewUpdater(
	lookup schedule.Lookup,
	crfs metadata.CrfMetadataRepository,
	requisitions metadata.RequisitionMetadataRepository,
	runner *rules.Runner,
	log zerolog.Logger,
) *Updater {
	return &Updater{lookup: lookup, crfs: crfs, requisitions: requisitions, runner: runner, log: log}
}

// OnFormSaved flips the form's own metadata to KEYED, copies the report
// datetime, and re-runs the rules that use this form as a source. A missing
// metadata record means the form is not scheduled for this visit, which is
// a configuration error surfaced loudly.
func (u *Updater) OnFormSaved(ctx context.Context, v *visit.Visit, b MetadataBinding) error {
	key := v.Key()

	if b.PanelName != "" {
		rec, err := u.requisitions.Get(ctx, key, b.Form, b.PanelName)
		if errors.Is(err, metadata.ErrNotFound) {
			return u.notScheduled(b, key)
		}
		if err != nil {
			return err
		}
		if !rec.IsKeyed() || !sameTime(rec.ReportDatetime, b.ReportDatetime) {
			rec.EntryStatus = metadata.StatusKeyed
			reported := b.ReportDatetime
			rec.ReportDatetime = &reported
			if err := u.requisitions.Update(ctx, rec); err != nil {
				return err
			}
		}
		return u.runner.RunForSource(ctx, b.Form, v)
	}

	rec, err := u.crfs.Get(ctx, key, b.Form)
	if errors.Is(err, metadata.ErrNotFound) {
		return u.notScheduled(b, key)
	}
	if err != nil {
		return err
	}
	if !rec.IsKeyed() || !sameTime(rec.ReportDatetime, b.ReportDatetime) {
		rec.EntryStatus = metadata.StatusKeyed
		reported := b.ReportDatetime
		rec.ReportDatetime = &reported
		if err := u.crfs.Update(ctx, rec); err != nil {
			return err
		}
	}
	return u.runner.RunForSource(ctx, b.Form, v)
}

// OnFormDeleted resets the form's own metadata to its schedule-derived
// default, clears the report datetime, and re-runs dependent rules against
// the now-absent source.
func (u *Updater) OnFormDeleted(ctx context.Context, v *visit.Visit, b MetadataBinding) error {
	key := v.Key()
	vdef, err := u.lookup.GetVisit(v.ScheduleName, v.VisitCode)
	if err != nil {
		return &ConfigurationError{Msg: fmt.Sprintf("visit %s has no schedule definition", key), Err: err}
	}
	crfDefs, reqDefs := formSets(vdef, v)

	if b.PanelName != "" {
		rec, err := u.requisitions.Get(ctx, key, b.Form, b.PanelName)
		if errors.Is(err, metadata.ErrNotFound) {
			return u.notScheduled(b, key)
		}
		if err != nil {
			return err
		}
		status := metadata.StatusNotRequired
		for _, def := range reqDefs {
			if def.Form == b.Form && def.PanelName == b.PanelName {
				status = defaultStatus(def.Required, v)
				break
			}
		}
		rec.EntryStatus = status
		rec.ReportDatetime = nil
		if err := u.requisitions.Update(ctx, rec); err != nil {
			return err
		}
		return u.runner.RunForSource(ctx, b.Form, v)
	}

	rec, err := u.crfs.Get(ctx, key, b.Form)
	if errors.Is(err, metadata.ErrNotFound) {
		return u.notScheduled(b, key)
	}
	if err != nil {
		return err
	}
	status := metadata.StatusNotRequired
	for _, def := range crfDefs {
		if def.Form == b.Form {
			status = defaultStatus(def.Required, v)
			break
		}
	}
	rec.EntryStatus = status
	rec.ReportDatetime = nil
	if err := u.crfs.Update(ctx, rec); err != nil {
		return err
	}
	return u.runner.RunForSource(ctx, b.Form, v)
}

func (u *Updater) notScheduled(b MetadataBinding, key metadata.VisitKey) error {
	target := b.Form.String()
	if b.PanelName != "" {
		target += ":" + b.PanelName
	}
	return &ConfigurationError{
		Msg: fmt.Sprintf("no metadata record for %s at %s; is this form scheduled for this visit?", target, key),
	}
}

func sameTime(a *time.Time, b time.Time) bool {
	return a != nil && a.Equal(b)
}
