package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
	"github.com/edc/edc/internal/domain/visit"
)

// formSets returns the CRF and requisition declarations that apply to a
// visit instance: the reduced missed set when the visit was missed, the
// unscheduled sets when the visit-code-sequence is non-zero, otherwise the
// full scheduled sets.
func formSets(vdef *schedule.VisitDef, v *visit.Visit) ([]schedule.CrfDef, []schedule.RequisitionDef) {
	if v.IsMissed() {
		return vdef.MissedCrfs, nil
	}
	if v.VisitCodeSequence != 0 {
		return vdef.UnscheduledCrfs, vdef.UnscheduledRequisitions
	}
	return vdef.Crfs, vdef.Requisitions
}

// defaultStatus is the status a record starts in. Records of a missed visit
// start in the terminal MISSED display state.
func defaultStatus(required bool, v *visit.Visit) metadata.EntryStatus {
	if v.IsMissed() {
		return metadata.StatusMissed
	}
	return metadata.DefaultStatus(required)
}

// Creator provisions the metadata set for a visit instance.
type Creator struct {
	lookup       schedule.Lookup
	crfs         metadata.CrfMetadataRepository
	requisitions metadata.RequisitionMetadataRepository
	resolver     *sources.Resolver
	log          zerolog.Logger
}

func NewCreator(
	lookup schedule.Lookup,
	crfs metadata.CrfMetadataRepository,
	requisitions metadata.RequisitionMetadataRepository,
	resolver *sources.Resolver,
	log zerolog.Logger,
) *Creator {
	return &Creator{lookup: lookup, crfs: crfs, requisitions: requisitions, resolver: resolver, log: log}
}

// Create get-or-creates a metadata record for every form and panel
// configured for the visit's code. Existing non-KEYED records whose default
// no longer matches the schedule are refreshed in place. With updateKeyed
// set, records whose source already exists are promoted to KEYED, which
// makes re-entrant calls after schedule changes converge.
func (c *Creator) Create(ctx context.Context, v *visit.Visit, updateKeyed bool) error {
	vdef, err := c.lookup.GetVisit(v.ScheduleName, v.VisitCode)
	if err != nil {
		return &ConfigurationError{Msg: fmt.Sprintf("visit %s has no schedule definition", v.Key()), Err: err}
	}

	crfDefs, reqDefs := formSets(vdef, v)
	key := v.Key()

	for _, def := range crfDefs {
		if _, err := c.resolver.Resolve(def.Form); err != nil {
			return &ConfigurationError{Msg: fmt.Sprintf("crf %s is scheduled but has no accessor", def.Form), Err: err}
		}

		rec, created, err := c.crfs.GetOrCreate(ctx, &metadata.CrfMetadata{
			VisitKey:    key,
			Form:        def.Form,
			EntryStatus: defaultStatus(def.Required, v),
			ShowOrder:   def.ShowOrder,
		})
		if err != nil {
			return fmt.Errorf("create crf metadata %s/%s: %w", key, def.Form, err)
		}
		if !created {
			if err := c.refreshCrf(ctx, rec, def, v); err != nil {
				return err
			}
		}
		if updateKeyed && !rec.IsKeyed() {
			if err := c.promoteCrf(ctx, rec, def.Form, key); err != nil {
				return err
			}
		}
	}

	for _, def := range reqDefs {
		if _, err := c.resolver.Resolve(def.Form); err != nil {
			return &ConfigurationError{Msg: fmt.Sprintf("requisition %s is scheduled but has no accessor", def.Form), Err: err}
		}

		rec, created, err := c.requisitions.GetOrCreate(ctx, &metadata.RequisitionMetadata{
			VisitKey:    key,
			Form:        def.Form,
			PanelName:   def.PanelName,
			EntryStatus: defaultStatus(def.Required, v),
			ShowOrder:   def.ShowOrder,
		})
		if err != nil {
			return fmt.Errorf("create requisition metadata %s/%s:%s: %w", key, def.Form, def.PanelName, err)
		}
		if !created {
			if err := c.refreshRequisition(ctx, rec, def, v); err != nil {
				return err
			}
		}
		if updateKeyed && !rec.IsKeyed() {
			if err := c.promoteRequisition(ctx, rec, def, key); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Creator) refreshCrf(ctx context.Context, rec *metadata.CrfMetadata, def schedule.CrfDef, v *visit.Visit) error {
	if rec.IsKeyed() {
		return nil
	}
	want := defaultStatus(def.Required, v)
	if rec.EntryStatus == want && rec.ShowOrder == def.ShowOrder {
		return nil
	}
	rec.EntryStatus = want
	rec.ShowOrder = def.ShowOrder
	return c.crfs.Update(ctx, rec)
}

func (c *Creator) refreshRequisition(ctx context.Context, rec *metadata.RequisitionMetadata, def schedule.RequisitionDef, v *visit.Visit) error {
	if rec.IsKeyed() {
		return nil
	}
	want := defaultStatus(def.Required, v)
	if rec.EntryStatus == want && rec.ShowOrder == def.ShowOrder {
		return nil
	}
	rec.EntryStatus = want
	rec.ShowOrder = def.ShowOrder
	return c.requisitions.Update(ctx, rec)
}

func (c *Creator) promoteCrf(ctx context.Context, rec *metadata.CrfMetadata, form schedule.FormRef, key metadata.VisitKey) error {
	obj, err := c.resolver.Get(ctx, form, key, "")
	if errors.Is(err, sources.ErrNoSource) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.EntryStatus = metadata.StatusKeyed
	reported := obj.Reported()
	rec.ReportDatetime = &reported
	return c.crfs.Update(ctx, rec)
}

func (c *Creator) promoteRequisition(ctx context.Context, rec *metadata.RequisitionMetadata, def schedule.RequisitionDef, key metadata.VisitKey) error {
	obj, err := c.resolver.Get(ctx, def.Form, key, def.PanelName)
	if errors.Is(err, sources.ErrNoSource) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.EntryStatus = metadata.StatusKeyed
	reported := obj.Reported()
	rec.ReportDatetime = &reported
	return c.requisitions.Update(ctx, rec)
}

// Destroyer removes the metadata set for a visit instance, guarding KEYED
// records against data loss.
type Destroyer struct {
	crfs         metadata.CrfMetadataRepository
	requisitions metadata.RequisitionMetadataRepository
	resolver     *sources.Resolver
	log          zerolog.Logger
}

func NewDestroyer(
	crfs metadata.CrfMetadataRepository,
	requisitions metadata.RequisitionMetadataRepository,
	resolver *sources.Resolver,
	log zerolog.Logger,
) *Destroyer {
	return &Destroyer{crfs: crfs, requisitions: requisitions, resolver: resolver, log: log}
}

// Delete removes all metadata records for the visit instance. A KEYED
// record whose source still exists raises a DeleteMetadataError; a KEYED
// record whose source is already gone is inconsistent state and is removed
// along with the rest. Returns the number of records removed.
func (d *Destroyer) Delete(ctx context.Context, v *visit.Visit) (int, error) {
	key := v.Key()
	count := 0

	crfRecs, err := d.crfs.ListForVisit(ctx, key)
	if err != nil {
		return 0, err
	}
	for _, rec := range crfRecs {
		if !rec.IsKeyed() {
			continue
		}
		exists, err := d.resolver.Exists(ctx, rec.Form, key, "")
		if err != nil {
			return count, &ConfigurationError{Msg: fmt.Sprintf("crf %s has no accessor", rec.Form), Err: err}
		}
		if exists {
			return count, &DeleteMetadataError{Key: key, Target: rec.Form.String()}
		}
		// source is gone; the KEYED status was stale
		if err := d.crfs.Delete(ctx, rec.ID); err != nil {
			return count, err
		}
		count++
	}

	reqRecs, err := d.requisitions.ListForVisit(ctx, key)
	if err != nil {
		return count, err
	}
	for _, rec := range reqRecs {
		if !rec.IsKeyed() {
			continue
		}
		exists, err := d.resolver.Exists(ctx, rec.Form, key, rec.PanelName)
		if err != nil {
			return count, &ConfigurationError{Msg: fmt.Sprintf("requisition %s has no accessor", rec.Form), Err: err}
		}
		if exists {
			return count, &DeleteMetadataError{Key: key, Target: rec.Form.String() + ":" + rec.PanelName}
		}
		if err := d.requisitions.Delete(ctx, rec.ID); err != nil {
			return count, err
		}
		count++
	}

	n, err := d.crfs.DeleteForVisitExcept(ctx, key, metadata.StatusKeyed)
	if err != nil {
		return count, err
	}
	count += n

	n, err = d.requisitions.DeleteForVisitExcept(ctx, key, metadata.StatusKeyed)
	if err != nil {
		return count, err
	}
	count += n

	return count, nil
}
