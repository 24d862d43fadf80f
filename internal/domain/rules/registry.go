package rules

import (
	"fmt"
	"sync"

	"github.com/edc/edc/internal/domain/schedule"
)

// Registry holds the rule groups known to the process, keyed by app scope.
// It is constructed once at process initialization and passed by reference
// into the engine; tests build a fresh registry per case.
type Registry struct {
	mu     sync.RWMutex
	groups []*RuleGroup
	names  map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a rule group. Duplicate group names and invalid groups are
// fatal configuration errors.
func (r *Registry) Register(g *RuleGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[g.Name] {
		return fmt.Errorf("rule group %s already registered", g.Name)
	}
	r.names[g.Name] = true
	r.groups = append(r.groups, g)
	return nil
}

// GroupsFor returns the groups scoped to an app, in registration order.
func (r *Registry) GroupsFor(app string) []*RuleGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*RuleGroup
	for _, g := range r.groups {
		if g.App == app {
			out = append(out, g)
		}
	}
	return out
}

// RulesForSource returns, in evaluation order, the rules in an app scope
// whose declared source references the given form.
func (r *Registry) RulesForSource(app string, form schedule.FormRef) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Rule
	for _, g := range r.groups {
		if g.App != app {
			continue
		}
		for _, rule := range g.Rules {
			if rule.Source == form {
				out = append(out, rule)
			}
		}
	}
	return out
}

// Len returns the number of registered groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
