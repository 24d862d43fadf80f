package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/rules"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
	"github.com/edc/edc/internal/domain/visit"
)

var (
	formOne    = schedule.FormRef{Namespace: "demo", Name: "crfone"}
	formTwo    = schedule.FormRef{Namespace: "demo", Name: "crftwo"}
	formReq    = schedule.FormRef{Namespace: "demo", Name: "panelreq"}
	formMissed = schedule.FormRef{Namespace: "demo", Name: "missedvisit"}
)

type engineEnv struct {
	svc       *Service
	crfs      *memCrfRepo
	reqs      *memReqRepo
	accessors map[schedule.FormRef]*memAccessor
	visit     *visit.Visit
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()

	scheduleReg := schedule.NewRegistry()
	err := scheduleReg.Register(&schedule.Schedule{
		Name:              "sched",
		VisitScheduleName: "vs",
		Visits: []schedule.VisitDef{
			{
				Code:  "1000",
				Title: "Day 1",
				Crfs: []schedule.CrfDef{
					{Form: formOne, Required: true, ShowOrder: 10},
					{Form: formTwo, Required: false, ShowOrder: 20},
				},
				Requisitions: []schedule.RequisitionDef{
					{Form: formReq, PanelName: "cbc", Required: true, ShowOrder: 10},
				},
				MissedCrfs: []schedule.CrfDef{
					{Form: formMissed, Required: true, ShowOrder: 10},
				},
				UnscheduledCrfs: []schedule.CrfDef{
					{Form: formOne, Required: true, ShowOrder: 10},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("register schedule: %v", err)
	}

	ruleReg := rules.NewRegistry()
	err = ruleReg.Register(&rules.RuleGroup{
		Name: "test.rules",
		App:  "vs",
		Rules: []*rules.Rule{
			{
				Name:    "crftwo_follows_crfone_f1",
				Source:  formOne,
				Targets: []rules.TargetRef{{Form: formTwo}},
				Logic: rules.Logic{
					Predicate:   rules.FieldEquals("f1", "car"),
					Consequence: rules.VerdictRequired,
					Alternative: rules.VerdictNotRequired,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}

	resolver := sources.NewResolver()
	accessors := make(map[schedule.FormRef]*memAccessor)
	for _, form := range []schedule.FormRef{formOne, formTwo, formReq, formMissed} {
		acc := newMemAccessor(form)
		accessors[form] = acc
		if err := resolver.Bind(form, acc); err != nil {
			t.Fatalf("bind %s: %v", form, err)
		}
	}

	crfs := newMemCrfRepo()
	reqs := newMemReqRepo()
	svc := NewService(nil, scheduleReg, crfs, reqs, resolver, ruleReg, zerolog.Nop())

	return &engineEnv{
		svc:       svc,
		crfs:      crfs,
		reqs:      reqs,
		accessors: accessors,
		visit: &visit.Visit{
			VisitKey: metadata.VisitKey{
				SubjectID:         "S-001",
				VisitScheduleName: "vs",
				ScheduleName:      "sched",
				VisitCode:         "1000",
			},
			Reason:         visit.ReasonScheduled,
			ReportDatetime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

func (env *engineEnv) crfStatus(t *testing.T, form schedule.FormRef) metadata.EntryStatus {
	t.Helper()
	rec, err := env.crfs.Get(context.Background(), env.visit.Key(), form)
	if err != nil {
		t.Fatalf("get %s: %v", form, err)
	}
	return rec.EntryStatus
}

func TestCreateForVisitProvisionsDefaults(t *testing.T) {
	env := newEngineEnv(t)
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	if got := env.crfStatus(t, formOne); got != metadata.StatusRequired {
		t.Errorf("crfone = %s, want REQUIRED", got)
	}
	if got := env.crfStatus(t, formTwo); got != metadata.StatusNotRequired {
		t.Errorf("crftwo = %s, want NOT_REQUIRED", got)
	}
	rec, err := env.reqs.Get(context.Background(), env.visit.Key(), formReq, "cbc")
	if err != nil {
		t.Fatalf("get cbc: %v", err)
	}
	if rec.EntryStatus != metadata.StatusRequired {
		t.Errorf("cbc = %s, want REQUIRED", rec.EntryStatus)
	}
	if _, err := env.crfs.Get(context.Background(), env.visit.Key(), formMissed); !errors.Is(err, metadata.ErrNotFound) {
		t.Error("missed-visit form should not be provisioned for a scheduled visit")
	}
}

func TestCreateForVisitIsIdempotent(t *testing.T) {
	env := newEngineEnv(t)
	for i := 0; i < 3; i++ {
		if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
			t.Fatalf("CreateForVisit #%d: %v", i, err)
		}
	}
	if n := len(env.crfs.records); n != 2 {
		t.Errorf("crf records = %d, want 2", n)
	}
	if n := len(env.reqs.records); n != 1 {
		t.Errorf("requisition records = %d, want 1", n)
	}
}

func TestCreateForVisitMissedUsesReducedSet(t *testing.T) {
	env := newEngineEnv(t)
	env.visit.Reason = visit.ReasonMissed

	if err := env.svc.CreateForVisit(context.Background(), env.visit, false); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}
	if got := env.crfStatus(t, formMissed); got != metadata.StatusMissed {
		t.Errorf("missed-visit form = %s, want MISSED", got)
	}
	if n := len(env.crfs.records); n != 1 {
		t.Errorf("crf records = %d, want only the missed-visit form", n)
	}
	if n := len(env.reqs.records); n != 0 {
		t.Errorf("requisition records = %d, want 0 for a missed visit", n)
	}
}

func TestCreateForVisitUnscheduledSequence(t *testing.T) {
	env := newEngineEnv(t)
	env.visit.Reason = visit.ReasonUnscheduled
	env.visit.VisitCodeSequence = 1

	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}
	if n := len(env.crfs.records); n != 1 {
		t.Errorf("crf records = %d, want only the unscheduled set", n)
	}
	if got := env.crfStatus(t, formOne); got != metadata.StatusRequired {
		t.Errorf("crfone = %s, want REQUIRED", got)
	}
	if n := len(env.reqs.records); n != 0 {
		t.Errorf("requisition records = %d, want 0", n)
	}
}

func TestCreateForVisitRefreshesDriftedDefaults(t *testing.T) {
	env := newEngineEnv(t)
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	// simulate a schedule change having left a stale status behind
	rec, _ := env.crfs.Get(context.Background(), env.visit.Key(), formOne)
	rec.EntryStatus = metadata.StatusNotRequired
	rec.ShowOrder = 99
	if err := env.crfs.Update(context.Background(), rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}
	rec, _ = env.crfs.Get(context.Background(), env.visit.Key(), formOne)
	if rec.EntryStatus != metadata.StatusRequired || rec.ShowOrder != 10 {
		t.Errorf("record not refreshed: status=%s show_order=%d", rec.EntryStatus, rec.ShowOrder)
	}
}

func TestCreateForVisitPromotesKeyedWhenSourceExists(t *testing.T) {
	env := newEngineEnv(t)
	reported := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	env.accessors[formOne].put(env.visit.Key(), "", map[string]interface{}{"f1": "car"}, reported)

	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	rec, _ := env.crfs.Get(context.Background(), env.visit.Key(), formOne)
	if rec.EntryStatus != metadata.StatusKeyed {
		t.Errorf("crfone = %s, want KEYED", rec.EntryStatus)
	}
	if rec.ReportDatetime == nil || !rec.ReportDatetime.Equal(reported) {
		t.Errorf("report datetime = %v, want %v", rec.ReportDatetime, reported)
	}
	// the cascade also ran: crfone.f1 == "car" requires crftwo
	if got := env.crfStatus(t, formTwo); got != metadata.StatusRequired {
		t.Errorf("crftwo = %s, want REQUIRED via rule", got)
	}
}

func TestCreateForVisitUnboundAccessorIsConfigError(t *testing.T) {
	env := newEngineEnv(t)

	scheduleReg := schedule.NewRegistry()
	unbound := schedule.FormRef{Namespace: "demo", Name: "neverbound"}
	if err := scheduleReg.Register(&schedule.Schedule{
		Name:              "sched",
		VisitScheduleName: "vs",
		Visits: []schedule.VisitDef{
			{Code: "1000", Crfs: []schedule.CrfDef{{Form: unbound, Required: true}}},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	svc := NewService(nil, scheduleReg, env.crfs, env.reqs, sources.NewResolver(), rules.NewRegistry(), zerolog.Nop())
	err := svc.CreateForVisit(context.Background(), env.visit, true)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestDeleteForVisitRemovesAll(t *testing.T) {
	env := newEngineEnv(t)
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	count, err := env.svc.DeleteForVisit(context.Background(), env.visit)
	if err != nil {
		t.Fatalf("DeleteForVisit: %v", err)
	}
	if count != 3 {
		t.Errorf("deleted %d records, want 3", count)
	}
	if len(env.crfs.records) != 0 || len(env.reqs.records) != 0 {
		t.Error("records remain after delete")
	}
}

func TestDeleteForVisitGuardsKeyedRecords(t *testing.T) {
	env := newEngineEnv(t)
	env.accessors[formOne].put(env.visit.Key(), "", map[string]interface{}{"f1": "car"}, time.Now())
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	_, err := env.svc.DeleteForVisit(context.Background(), env.visit)
	var delErr *DeleteMetadataError
	if !errors.As(err, &delErr) {
		t.Fatalf("expected DeleteMetadataError, got %v", err)
	}
	if _, err := env.crfs.Get(context.Background(), env.visit.Key(), formOne); err != nil {
		t.Error("keyed record should survive the aborted delete")
	}
}

func TestDeleteForVisitRemovesStaleKeyed(t *testing.T) {
	env := newEngineEnv(t)
	env.accessors[formOne].put(env.visit.Key(), "", map[string]interface{}{"f1": "car"}, time.Now())
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	// source vanished but the KEYED status lingered
	env.accessors[formOne].remove(env.visit.Key(), "")

	count, err := env.svc.DeleteForVisit(context.Background(), env.visit)
	if err != nil {
		t.Fatalf("DeleteForVisit: %v", err)
	}
	if count != 3 {
		t.Errorf("deleted %d records, want 3", count)
	}
}

func TestOnFormSavedKeysAndCascades(t *testing.T) {
	env := newEngineEnv(t)
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	reported := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	env.accessors[formOne].put(env.visit.Key(), "", map[string]interface{}{"f1": "car"}, reported)
	err := env.svc.OnFormSaved(context.Background(), env.visit, MetadataBinding{Form: formOne, ReportDatetime: reported})
	if err != nil {
		t.Fatalf("OnFormSaved: %v", err)
	}

	rec, _ := env.crfs.Get(context.Background(), env.visit.Key(), formOne)
	if rec.EntryStatus != metadata.StatusKeyed {
		t.Errorf("crfone = %s, want KEYED", rec.EntryStatus)
	}
	if rec.ReportDatetime == nil || !rec.ReportDatetime.Equal(reported) {
		t.Errorf("report datetime = %v, want %v", rec.ReportDatetime, reported)
	}
	if got := env.crfStatus(t, formTwo); got != metadata.StatusRequired {
		t.Errorf("crftwo = %s, want REQUIRED via cascade", got)
	}
}

func TestOnFormSavedUnscheduledFormIsConfigError(t *testing.T) {
	env := newEngineEnv(t)
	// no metadata records exist yet
	err := env.svc.OnFormSaved(context.Background(), env.visit, MetadataBinding{Form: formOne, ReportDatetime: time.Now()})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestOnFormDeletedRestoresDefaultAndRecomputes(t *testing.T) {
	env := newEngineEnv(t)
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}
	reported := time.Now().UTC()
	env.accessors[formOne].put(env.visit.Key(), "", map[string]interface{}{"f1": "car"}, reported)
	if err := env.svc.OnFormSaved(context.Background(), env.visit, MetadataBinding{Form: formOne, ReportDatetime: reported}); err != nil {
		t.Fatalf("OnFormSaved: %v", err)
	}
	if got := env.crfStatus(t, formTwo); got != metadata.StatusRequired {
		t.Fatalf("precondition: crftwo = %s, want REQUIRED", got)
	}

	env.accessors[formOne].remove(env.visit.Key(), "")
	if err := env.svc.OnFormDeleted(context.Background(), env.visit, MetadataBinding{Form: formOne}); err != nil {
		t.Fatalf("OnFormDeleted: %v", err)
	}

	rec, _ := env.crfs.Get(context.Background(), env.visit.Key(), formOne)
	if rec.EntryStatus != metadata.StatusRequired {
		t.Errorf("crfone = %s, want schedule default REQUIRED", rec.EntryStatus)
	}
	if rec.ReportDatetime != nil {
		t.Errorf("report datetime should be cleared, got %v", rec.ReportDatetime)
	}
	if got := env.crfStatus(t, formTwo); got != metadata.StatusNotRequired {
		t.Errorf("crftwo = %s, want NOT_REQUIRED after the source vanished", got)
	}
}

func TestOnFormSavedPromotesMissedRecord(t *testing.T) {
	env := newEngineEnv(t)
	env.visit.Reason = visit.ReasonMissed
	if err := env.svc.CreateForVisit(context.Background(), env.visit, false); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}
	if got := env.crfStatus(t, formMissed); got != metadata.StatusMissed {
		t.Fatalf("precondition: missed form = %s", got)
	}

	reported := time.Now().UTC()
	env.accessors[formMissed].put(env.visit.Key(), "", nil, reported)
	if err := env.svc.OnFormSaved(context.Background(), env.visit, MetadataBinding{Form: formMissed, ReportDatetime: reported}); err != nil {
		t.Fatalf("OnFormSaved: %v", err)
	}
	if got := env.crfStatus(t, formMissed); got != metadata.StatusKeyed {
		t.Errorf("missed form = %s, want KEYED once data exists", got)
	}
}

func TestMarkVisitNotRequired(t *testing.T) {
	env := newEngineEnv(t)
	reported := time.Now().UTC()
	env.accessors[formOne].put(env.visit.Key(), "", map[string]interface{}{"f1": "car"}, reported)
	if err := env.svc.CreateForVisit(context.Background(), env.visit, true); err != nil {
		t.Fatalf("CreateForVisit: %v", err)
	}

	count, err := env.svc.MarkVisitNotRequired(context.Background(), env.visit)
	if err != nil {
		t.Fatalf("MarkVisitNotRequired: %v", err)
	}
	if count != 2 {
		t.Errorf("flipped %d records, want 2 (crftwo was already required via rule, cbc panel)", count)
	}
	if got := env.crfStatus(t, formOne); got != metadata.StatusKeyed {
		t.Errorf("keyed crfone = %s, must stay KEYED", got)
	}
	if got := env.crfStatus(t, formTwo); got != metadata.StatusNotRequired {
		t.Errorf("crftwo = %s, want NOT_REQUIRED", got)
	}
}
