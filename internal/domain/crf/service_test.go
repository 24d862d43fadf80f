package crf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/domain/engine"
	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/visit"
)

var formOne = schedule.FormRef{Namespace: "demo", Name: "crfone"}

type memSubmissionRepo struct {
	items map[string]*Submission
	log   []string
}

func newMemSubmissionRepo() *memSubmissionRepo {
	return &memSubmissionRepo{items: make(map[string]*Submission)}
}

func subKey(key metadata.VisitKey, form schedule.FormRef, panel string) string {
	return key.String() + "|" + form.String() + "|" + panel
}

func (r *memSubmissionRepo) Upsert(_ context.Context, s *Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	r.items[subKey(s.VisitKey, s.Form, s.PanelName)] = &cp
	r.log = append(r.log, "upsert")
	return nil
}

func (r *memSubmissionRepo) Get(_ context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (*Submission, error) {
	s, ok := r.items[subKey(key, form, panel)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSubmissionRepo) Exists(_ context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (bool, error) {
	_, ok := r.items[subKey(key, form, panel)]
	return ok, nil
}

func (r *memSubmissionRepo) Delete(_ context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) error {
	if _, ok := r.items[subKey(key, form, panel)]; !ok {
		return ErrNotFound
	}
	delete(r.items, subKey(key, form, panel))
	r.log = append(r.log, "delete")
	return nil
}

func (r *memSubmissionRepo) ListForVisit(_ context.Context, key metadata.VisitKey) ([]*Submission, error) {
	var out []*Submission
	for _, s := range r.items {
		if s.VisitKey == key {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memVisitRepo struct {
	visits map[uuid.UUID]*visit.Visit
}

func (r *memVisitRepo) Create(_ context.Context, v *visit.Visit) error {
	r.visits[v.ID] = v
	return nil
}
func (r *memVisitRepo) GetByID(_ context.Context, id uuid.UUID) (*visit.Visit, error) {
	v, ok := r.visits[id]
	if !ok {
		return nil, visit.ErrNotFound
	}
	return v, nil
}
func (r *memVisitRepo) GetByKey(_ context.Context, key metadata.VisitKey) (*visit.Visit, error) {
	for _, v := range r.visits {
		if v.VisitKey == key {
			return v, nil
		}
	}
	return nil, visit.ErrNotFound
}
func (r *memVisitRepo) Update(_ context.Context, v *visit.Visit) error { return nil }
func (r *memVisitRepo) Delete(_ context.Context, id uuid.UUID) error  { return nil }
func (r *memVisitRepo) ListBySubject(_ context.Context, subjectID string, limit, offset int) ([]*visit.Visit, int, error) {
	return nil, 0, nil
}

// fakeUpdater records the engine notifications, sharing the submission
// repo's log so call ordering is visible.
type fakeUpdater struct {
	repo     *memSubmissionRepo
	bindings []engine.MetadataBinding
	err      error
}

func (f *fakeUpdater) OnFormSaved(_ context.Context, v *visit.Visit, b engine.MetadataBinding) error {
	f.repo.log = append(f.repo.log, "saved")
	f.bindings = append(f.bindings, b)
	return f.err
}

func (f *fakeUpdater) OnFormDeleted(_ context.Context, v *visit.Visit, b engine.MetadataBinding) error {
	f.repo.log = append(f.repo.log, "deleted")
	f.bindings = append(f.bindings, b)
	return f.err
}

func testKey() metadata.VisitKey {
	return metadata.VisitKey{
		SubjectID:         "S-001",
		VisitScheduleName: "vs",
		ScheduleName:      "sched",
		VisitCode:         "1000",
	}
}

func newTestService(t *testing.T) (*Service, *memSubmissionRepo, *fakeUpdater) {
	t.Helper()

	reg := schedule.NewRegistry()
	err := reg.Register(&schedule.Schedule{
		Name:              "sched",
		VisitScheduleName: "vs",
		Visits: []schedule.VisitDef{
			{Code: "1000", Crfs: []schedule.CrfDef{{Form: formOne, Required: true}}},
		},
	})
	if err != nil {
		t.Fatalf("register schedule: %v", err)
	}

	visits := &memVisitRepo{visits: map[uuid.UUID]*visit.Visit{}}
	v := &visit.Visit{ID: uuid.New(), VisitKey: testKey(), Reason: visit.ReasonScheduled}
	visits.visits[v.ID] = v

	repo := newMemSubmissionRepo()
	updater := &fakeUpdater{repo: repo}
	svc := NewService(repo, visits, reg, updater, nil, zerolog.Nop())
	return svc, repo, updater
}

func TestSaveUpsertsThenNotifiesEngine(t *testing.T) {
	svc, repo, updater := newTestService(t)

	reported := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	sub := &Submission{
		VisitKey:       metadata.VisitKey{SubjectID: "S-001", ScheduleName: "sched", VisitCode: "1000"},
		Form:           formOne,
		Data:           map[string]interface{}{"f1": "car"},
		ReportDatetime: reported,
	}
	if err := svc.Save(context.Background(), sub); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if sub.VisitScheduleName != "vs" {
		t.Errorf("visit schedule name not resolved, got %q", sub.VisitScheduleName)
	}
	if len(repo.log) != 2 || repo.log[0] != "upsert" || repo.log[1] != "saved" {
		t.Errorf("call order = %v, want [upsert saved]", repo.log)
	}
	if len(updater.bindings) != 1 {
		t.Fatalf("bindings = %d", len(updater.bindings))
	}
	b := updater.bindings[0]
	if b.Form != formOne || !b.ReportDatetime.Equal(reported) {
		t.Errorf("binding = %+v", b)
	}
}

func TestSaveRequiresExistingVisit(t *testing.T) {
	svc, _, _ := newTestService(t)

	sub := &Submission{
		VisitKey: metadata.VisitKey{SubjectID: "S-001", ScheduleName: "sched", VisitCode: "1000", VisitCodeSequence: 3},
		Form:     formOne,
	}
	if err := svc.Save(context.Background(), sub); err == nil {
		t.Error("saving against a nonexistent visit instance should fail")
	}
}

func TestSaveValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	if err := svc.Save(context.Background(), &Submission{Form: formOne}); err == nil {
		t.Error("missing subject should fail")
	}
	sub := &Submission{VisitKey: metadata.VisitKey{SubjectID: "S-001", ScheduleName: "sched", VisitCode: "1000"}}
	if err := svc.Save(context.Background(), sub); err == nil {
		t.Error("missing form reference should fail")
	}
}

func TestDeleteRemovesSourceBeforeEngine(t *testing.T) {
	svc, repo, _ := newTestService(t)

	sub := &Submission{
		VisitKey:       metadata.VisitKey{SubjectID: "S-001", ScheduleName: "sched", VisitCode: "1000"},
		Form:           formOne,
		ReportDatetime: time.Now(),
	}
	if err := svc.Save(context.Background(), sub); err != nil {
		t.Fatalf("Save: %v", err)
	}
	repo.log = nil

	key := metadata.VisitKey{SubjectID: "S-001", ScheduleName: "sched", VisitCode: "1000"}
	if err := svc.Delete(context.Background(), key, formOne, ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(repo.log) != 2 || repo.log[0] != "delete" || repo.log[1] != "deleted" {
		t.Errorf("call order = %v, want [delete deleted]", repo.log)
	}
	if exists, _ := repo.Exists(context.Background(), testKey(), formOne, ""); exists {
		t.Error("submission should be gone")
	}
}

func TestDeleteMissingSubmission(t *testing.T) {
	svc, _, _ := newTestService(t)

	key := metadata.VisitKey{SubjectID: "S-001", ScheduleName: "sched", VisitCode: "1000"}
	err := svc.Delete(context.Background(), key, formOne, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
