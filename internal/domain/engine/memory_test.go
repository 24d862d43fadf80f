package engine

// In-memory repositories and source accessors backing the engine tests.
// They mirror the Postgres repositories' contract, including copy-on-read
// so a forgotten Update shows up as a failure.

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
)

type memCrfRepo struct {
	records map[uuid.UUID]*metadata.CrfMetadata
}

func newMemCrfRepo() *memCrfRepo {
	return &memCrfRepo{records: make(map[uuid.UUID]*metadata.CrfMetadata)}
}

func (r *memCrfRepo) GetOrCreate(_ context.Context, m *metadata.CrfMetadata) (*metadata.CrfMetadata, bool, error) {
	for _, rec := range r.records {
		if rec.VisitKey == m.VisitKey && rec.Form == m.Form {
			cp := *rec
			return &cp, false, nil
		}
	}
	cp := *m
	cp.ID = uuid.New()
	r.records[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r *memCrfRepo) Get(_ context.Context, key metadata.VisitKey, form schedule.FormRef) (*metadata.CrfMetadata, error) {
	for _, rec := range r.records {
		if rec.VisitKey == key && rec.Form == form {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, metadata.ErrNotFound
}

func (r *memCrfRepo) Update(_ context.Context, m *metadata.CrfMetadata) error {
	if _, ok := r.records[m.ID]; !ok {
		return metadata.ErrNotFound
	}
	cp := *m
	r.records[m.ID] = &cp
	return nil
}

func (r *memCrfRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.records[id]; !ok {
		return metadata.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memCrfRepo) ListForVisit(_ context.Context, key metadata.VisitKey) ([]*metadata.CrfMetadata, error) {
	var out []*metadata.CrfMetadata
	for _, rec := range r.records {
		if rec.VisitKey == key {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memCrfRepo) DeleteForVisitExcept(_ context.Context, key metadata.VisitKey, keep ...metadata.EntryStatus) (int, error) {
	count := 0
	for id, rec := range r.records {
		if rec.VisitKey != key {
			continue
		}
		kept := false
		for _, s := range keep {
			if rec.EntryStatus == s {
				kept = true
			}
		}
		if !kept {
			delete(r.records, id)
			count++
		}
	}
	return count, nil
}

func (r *memCrfRepo) BulkSetStatusForVisit(_ context.Context, key metadata.VisitKey, status metadata.EntryStatus) (int, error) {
	count := 0
	for _, rec := range r.records {
		if rec.VisitKey == key && rec.EntryStatus != metadata.StatusKeyed && rec.EntryStatus != status {
			rec.EntryStatus = status
			count++
		}
	}
	return count, nil
}

func (r *memCrfRepo) NextRequired(_ context.Context, key metadata.VisitKey, after int) (*metadata.CrfMetadata, error) {
	var best *metadata.CrfMetadata
	for _, rec := range r.records {
		if rec.VisitKey != key || rec.EntryStatus != metadata.StatusRequired || rec.ShowOrder <= after {
			continue
		}
		if best == nil || rec.ShowOrder < best.ShowOrder {
			best = rec
		}
	}
	if best == nil {
		return nil, metadata.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memCrfRepo) ListByStatus(_ context.Context, subjectID string, status metadata.EntryStatus, limit, offset int) ([]*metadata.CrfMetadata, int, error) {
	var out []*metadata.CrfMetadata
	for _, rec := range r.records {
		if rec.SubjectID == subjectID && rec.EntryStatus == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

type memReqRepo struct {
	records map[uuid.UUID]*metadata.RequisitionMetadata
}

func newMemReqRepo() *memReqRepo {
	return &memReqRepo{records: make(map[uuid.UUID]*metadata.RequisitionMetadata)}
}

func (r *memReqRepo) GetOrCreate(_ context.Context, m *metadata.RequisitionMetadata) (*metadata.RequisitionMetadata, bool, error) {
	for _, rec := range r.records {
		if rec.VisitKey == m.VisitKey && rec.Form == m.Form && rec.PanelName == m.PanelName {
			cp := *rec
			return &cp, false, nil
		}
	}
	cp := *m
	cp.ID = uuid.New()
	r.records[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r *memReqRepo) Get(_ context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (*metadata.RequisitionMetadata, error) {
	for _, rec := range r.records {
		if rec.VisitKey == key && rec.Form == form && rec.PanelName == panel {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, metadata.ErrNotFound
}

func (r *memReqRepo) Update(_ context.Context, m *metadata.RequisitionMetadata) error {
	if _, ok := r.records[m.ID]; !ok {
		return metadata.ErrNotFound
	}
	cp := *m
	r.records[m.ID] = &cp
	return nil
}

func (r *memReqRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.records[id]; !ok {
		return metadata.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memReqRepo) ListForVisit(_ context.Context, key metadata.VisitKey) ([]*metadata.RequisitionMetadata, error) {
	var out []*metadata.RequisitionMetadata
	for _, rec := range r.records {
		if rec.VisitKey == key {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memReqRepo) DeleteForVisitExcept(_ context.Context, key metadata.VisitKey, keep ...metadata.EntryStatus) (int, error) {
	count := 0
	for id, rec := range r.records {
		if rec.VisitKey != key {
			continue
		}
		kept := false
		for _, s := range keep {
			if rec.EntryStatus == s {
				kept = true
			}
		}
		if !kept {
			delete(r.records, id)
			count++
		}
	}
	return count, nil
}

func (r *memReqRepo) BulkSetStatusForVisit(_ context.Context, key metadata.VisitKey, status metadata.EntryStatus) (int, error) {
	count := 0
	for _, rec := range r.records {
		if rec.VisitKey == key && rec.EntryStatus != metadata.StatusKeyed && rec.EntryStatus != status {
			rec.EntryStatus = status
			count++
		}
	}
	return count, nil
}

func (r *memReqRepo) ListByStatus(_ context.Context, subjectID string, status metadata.EntryStatus, limit, offset int) ([]*metadata.RequisitionMetadata, int, error) {
	var out []*metadata.RequisitionMetadata
	for _, rec := range r.records {
		if rec.SubjectID == subjectID && rec.EntryStatus == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

type memObject struct {
	form     schedule.FormRef
	fields   map[string]interface{}
	reported time.Time
}

func (o memObject) FormRef() schedule.FormRef { return o.form }
func (o memObject) Field(name string) (interface{}, bool) {
	v, ok := o.fields[name]
	return v, ok
}
func (o memObject) Reported() time.Time { return o.reported }

type memAccessor struct {
	form    schedule.FormRef
	objects map[string]memObject
}

func newMemAccessor(form schedule.FormRef) *memAccessor {
	return &memAccessor{form: form, objects: make(map[string]memObject)}
}

func (a *memAccessor) mapKey(k metadata.VisitKey, panel string) string { return k.String() + "|" + panel }

func (a *memAccessor) put(k metadata.VisitKey, panel string, fields map[string]interface{}, reported time.Time) {
	a.objects[a.mapKey(k, panel)] = memObject{form: a.form, fields: fields, reported: reported}
}

func (a *memAccessor) remove(k metadata.VisitKey, panel string) {
	delete(a.objects, a.mapKey(k, panel))
}

func (a *memAccessor) Exists(_ context.Context, k metadata.VisitKey, panel string) (bool, error) {
	_, ok := a.objects[a.mapKey(k, panel)]
	return ok, nil
}

func (a *memAccessor) Get(_ context.Context, k metadata.VisitKey, panel string) (sources.Object, error) {
	o, ok := a.objects[a.mapKey(k, panel)]
	if !ok {
		return nil, sources.ErrNoSource
	}
	return o, nil
}
