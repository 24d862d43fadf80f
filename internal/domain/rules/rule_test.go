package rules

import (
	"testing"

	"github.com/edc/edc/internal/domain/schedule"
)

func validRule() *Rule {
	return &Rule{
		Name:    "require_crftwo",
		Source:  formOne,
		Targets: []TargetRef{{Form: formTwo}},
		Logic: Logic{
			Predicate:   FieldEquals("f1", "car"),
			Consequence: VerdictRequired,
			Alternative: VerdictNotRequired,
		},
	}
}

func TestRuleValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	r := validRule()
	r.Name = ""
	if err := r.Validate(); err == nil {
		t.Error("unnamed rule should fail")
	}

	r = validRule()
	r.Logic.Predicate = nil
	if err := r.Validate(); err == nil {
		t.Error("rule without predicate should fail")
	}

	r = validRule()
	r.Targets = nil
	if err := r.Validate(); err == nil {
		t.Error("rule without targets should fail")
	}

	r = validRule()
	r.Logic.Consequence = VerdictNone
	r.Logic.Alternative = VerdictNone
	if err := r.Validate(); err == nil {
		t.Error("rule with two no-op verdicts should fail")
	}

	r = validRule()
	r.Logic.Consequence = Verdict("KEYED")
	if err := r.Validate(); err == nil {
		t.Error("rule with unwritable verdict should fail")
	}

	r = validRule()
	r.Targets = []TargetRef{{Form: formOne}}
	if err := r.Validate(); err == nil {
		t.Error("self-referencing rule should fail")
	}

	r = validRule()
	r.Targets = []TargetRef{{Form: schedule.FormRef{}}}
	if err := r.Validate(); err == nil {
		t.Error("target with empty form reference should fail")
	}
}

func TestVerdictEntryStatus(t *testing.T) {
	if _, err := VerdictNone.EntryStatus(); err == nil {
		t.Error("VerdictNone has no entry status")
	}
	s, err := VerdictRequired.EntryStatus()
	if err != nil || s != "REQUIRED" {
		t.Errorf("VerdictRequired = %s, %v", s, err)
	}
}

func TestRegistryRejectsInvalidGroups(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&RuleGroup{Name: "g", App: "vs"}); err == nil {
		t.Error("empty group should fail")
	}
	if err := reg.Register(&RuleGroup{Name: "g", Rules: []*Rule{validRule()}}); err == nil {
		t.Error("group without app scope should fail")
	}
	if err := reg.Register(&RuleGroup{App: "vs", Rules: []*Rule{validRule()}}); err == nil {
		t.Error("unnamed group should fail")
	}

	if err := reg.Register(&RuleGroup{Name: "g", App: "vs", Rules: []*Rule{validRule()}}); err != nil {
		t.Fatalf("valid group rejected: %v", err)
	}
	if err := reg.Register(&RuleGroup{Name: "g", App: "other", Rules: []*Rule{validRule()}}); err == nil {
		t.Error("duplicate group name should fail")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}
