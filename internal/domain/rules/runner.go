package rules

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

// Runner evaluates rule groups against a visit and writes the resulting
// verdicts to metadata. KEYED and MISSED targets are never overwritten.
type Runner struct {
	registry     *Registry
	crfs         metadata.CrfMetadataRepository
	requisitions metadata.RequisitionMetadataRepository
	resolver     *sources.Resolver
	log          zerolog.Logger
}

func NewRunner(
	registry *Registry,
	crfs metadata.CrfMetadataRepository,
	requisitions metadata.RequisitionMetadataRepository,
	resolver *sources.Resolver,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		registry:     registry,
		crfs:         crfs,
		requisitions: requisitions,
		resolver:     resolver,
		log:          log,
	}
}

// RunAll evaluates every rule scoped to the visit's app, in group
// registration order then rule declaration order. All rules are evaluated
// even when one fails; any failure fails the pass.
func (r *Runner) RunAll(ctx context.Context, v *visit.Visit) error {
	var all []*Rule
	for _, g := range r.registry.GroupsFor(v.VisitScheduleName) {
		all = append(all, g.Rules...)
	}
	return r.run(ctx, v, all)
}

// RunForSource evaluates only the rules whose declared source references
// the given form. Used after a source-form event to avoid a full visit
// re-scan.
func (r *Runner) RunForSource(ctx context.Context, form schedule.FormRef, v *visit.Visit) error {
	return r.run(ctx, v, r.registry.RulesForSource(v.VisitScheduleName, form))
}

func (r *Runner) run(ctx context.Context, v *visit.Visit, rs []*Rule) error {
	var errs []error
	for _, rule := range rs {
		if err := r.runRule(ctx, v, rule); err != nil {
			r.log.Error().Err(err).Str("rule", rule.Name).Str("visit", v.Key().String()).Msg("rule evaluation failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runRule(ctx context.Context, v *visit.Visit, rule *Rule) error {
	e := &Evaluation{Visit: v, SubjectID: v.SubjectID}
	if !rule.Source.IsZero() {
		obj, err := r.resolver.Get(ctx, rule.Source, v.Key(), rule.SourcePanel)
		switch {
		case errors.Is(err, sources.ErrNoSource):
			// evaluated with the no-source sentinel
		case err != nil:
			return fmt.Errorf("rule %s: resolve source %s: %w", rule.Name, rule.Source, err)
		default:
			e.Source = obj
			e.SourceExists = true
		}
	}

	ok, err := rule.Logic.Predicate(ctx, e)
	if err != nil {
		return &EvaluationError{Rule: rule.Name, Err: err}
	}

	verdict := rule.Logic.Verdict(ok)
	if verdict == VerdictNone {
		return nil
	}
	status, err := verdict.EntryStatus()
	if err != nil {
		return fmt.Errorf("rule %s: %w", rule.Name, err)
	}

	for _, t := range rule.Targets {
		if err := r.apply(ctx, v.Key(), t, status); err != nil {
			return fmt.Errorf("rule %s: target %s: %w", rule.Name, t, err)
		}
	}
	return nil
}

// apply writes the verdict to one target's metadata. Targets without a
// metadata record are not scheduled for this visit and are skipped, as are
// KEYED and MISSED records and writes that would be no-ops.
func (r *Runner) apply(ctx context.Context, key metadata.VisitKey, t TargetRef, status metadata.EntryStatus) error {
	if t.PanelName != "" {
		rec, err := r.requisitions.Get(ctx, key, t.Form, t.PanelName)
		if errors.Is(err, metadata.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.EntryStatus == metadata.StatusKeyed || rec.EntryStatus == metadata.StatusMissed || rec.EntryStatus == status {
			return nil
		}
		rec.EntryStatus = status
		return r.requisitions.Update(ctx, rec)
	}

	rec, err := r.crfs.Get(ctx, key, t.Form)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.EntryStatus == metadata.StatusKeyed || rec.EntryStatus == metadata.StatusMissed || rec.EntryStatus == status {
		return nil
	}
	rec.EntryStatus = status
	return r.crfs.Update(ctx, rec)
}
