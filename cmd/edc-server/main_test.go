package main

import (
	"testing"

	"github.com/edc/edc/internal/domain/crf"
	"github.com/edc/edc/internal/domain/rules"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
)

func TestRegisterSchedules(t *testing.T) {
	reg := schedule.NewRegistry()
	if err := registerSchedules(reg); err != nil {
		t.Fatalf("registerSchedules: %v", err)
	}

	s, err := reg.GetSchedule("demo_schedule")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if s.VisitScheduleName != "demo_visit_schedule" {
		t.Errorf("visit schedule name = %q", s.VisitScheduleName)
	}

	v, err := reg.GetVisit("demo_schedule", "1000")
	if err != nil {
		t.Fatalf("GetVisit 1000: %v", err)
	}
	if len(v.Crfs) != 3 {
		t.Errorf("visit 1000 has %d crfs, want 3", len(v.Crfs))
	}
	if len(v.Requisitions) != 2 {
		t.Errorf("visit 1000 has %d requisitions, want 2", len(v.Requisitions))
	}
	if len(v.MissedCrfs) == 0 {
		t.Error("visit 1000 has no missed-visit crf set")
	}
}

func TestRegisterRules(t *testing.T) {
	reg := rules.NewRegistry()
	if err := registerRules(reg); err != nil {
		t.Fatalf("registerRules: %v", err)
	}
	groups := reg.GroupsFor("demo_visit_schedule")
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(reg.RulesForSource("demo_visit_schedule", formScreening)) != 1 {
		t.Error("expected one rule sourced from the screening form")
	}
}

func TestBindSources_CoversAllScheduledForms(t *testing.T) {
	scheduleReg := schedule.NewRegistry()
	if err := registerSchedules(scheduleReg); err != nil {
		t.Fatalf("registerSchedules: %v", err)
	}

	resolver := sources.NewResolver()
	var repo crf.SubmissionRepository
	if err := bindSources(resolver, scheduleReg, repo); err != nil {
		t.Fatalf("bindSources: %v", err)
	}

	for _, form := range []schedule.FormRef{
		formScreening, formVitals, formPregnancyTest,
		formAdverseEvent, formMissedVisit, formBloodPanel,
	} {
		if _, err := resolver.Resolve(form); err != nil {
			t.Errorf("form %s is not bound: %v", form, err)
		}
	}
}
