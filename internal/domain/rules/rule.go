package rules

import (
	"context"
	"fmt"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
	"github.com/edc/edc/internal/domain/visit"
)

// Verdict is the requirement a rule derives for its targets. VerdictNone
// means the rule makes no change.
type Verdict string

const (
	VerdictNone        Verdict = ""
	VerdictRequired    Verdict = "REQUIRED"
	VerdictNotRequired Verdict = "NOT_REQUIRED"
)

// EntryStatus maps the verdict to the entry status it writes.
func (v Verdict) EntryStatus() (metadata.EntryStatus, error) {
	switch v {
	case VerdictRequired:
		return metadata.StatusRequired, nil
	case VerdictNotRequired:
		return metadata.StatusNotRequired, nil
	}
	return "", fmt.Errorf("verdict %q is not a writable entry status", string(v))
}

// Evaluation is the read-only context handed to a predicate: the visit being
// evaluated, the subject, and the rule's source record if one exists.
// Predicates must be side-effect free; only the Runner writes.
type Evaluation struct {
	Visit        *visit.Visit
	SubjectID    string
	Source       sources.Object
	SourceExists bool
}

// Predicate evaluates a boolean condition against a visit and its source
// data.
type Predicate func(ctx context.Context, e *Evaluation) (bool, error)

// Logic is the predicate/consequence/alternative triple of one rule. When
// the predicate holds, Consequence is the verdict; otherwise Alternative.
type Logic struct {
	Predicate   Predicate
	Consequence Verdict
	Alternative Verdict
}

// Verdict resolves the verdict for a predicate outcome.
func (l Logic) Verdict(ok bool) Verdict {
	if ok {
		return l.Consequence
	}
	return l.Alternative
}

// TargetRef identifies a form (or form+panel for requisitions) whose
// metadata a rule mutates.
type TargetRef struct {
	Form      schedule.FormRef
	PanelName string
}

func (t TargetRef) String() string {
	if t.PanelName != "" {
		return t.Form.String() + ":" + t.PanelName
	}
	return t.Form.String()
}

// Rule declares one derivation: evaluate Logic against the Source record
// (or with no source when Source is zero) and write the verdict to every
// target's metadata, unless that metadata is KEYED or MISSED.
type Rule struct {
	Name        string
	Source      schedule.FormRef
	SourcePanel string
	Targets     []TargetRef
	Logic       Logic
}

// Validate fails fast on configuration errors: missing name, predicate or
// targets, unknown verdicts, and self-referencing rules.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if r.Logic.Predicate == nil {
		return fmt.Errorf("rule %s: predicate is required", r.Name)
	}
	if len(r.Targets) == 0 {
		return fmt.Errorf("rule %s: at least one target is required", r.Name)
	}
	for _, v := range []Verdict{r.Logic.Consequence, r.Logic.Alternative} {
		switch v {
		case VerdictNone, VerdictRequired, VerdictNotRequired:
		default:
			return fmt.Errorf("rule %s: invalid verdict %q", r.Name, string(v))
		}
	}
	if r.Logic.Consequence == VerdictNone && r.Logic.Alternative == VerdictNone {
		return fmt.Errorf("rule %s: consequence and alternative are both no-ops", r.Name)
	}
	for _, t := range r.Targets {
		if t.Form.IsZero() {
			return fmt.Errorf("rule %s: target with empty form reference", r.Name)
		}
		if !r.Source.IsZero() && t.Form == r.Source && t.PanelName == r.SourcePanel {
			return fmt.Errorf("rule %s: source %s is also a target", r.Name, t)
		}
	}
	return nil
}

// RuleGroup batches rules for one visit-schedule app. Rules are evaluated
// in declaration order; when several rules write the same target in one
// pass, the last write wins.
type RuleGroup struct {
	Name  string
	App   string
	Rules []*Rule
}

// Validate fails fast on an unnamed, unscoped or empty group.
func (g *RuleGroup) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("rule group has no name")
	}
	if g.App == "" {
		return fmt.Errorf("rule group %s: app scope is required", g.Name)
	}
	if len(g.Rules) == 0 {
		return fmt.Errorf("rule group %s has no rules", g.Name)
	}
	for _, r := range g.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule group %s: %w", g.Name, err)
		}
	}
	return nil
}
