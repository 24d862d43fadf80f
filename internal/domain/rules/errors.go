package rules

import "fmt"

// EvaluationError wraps a predicate failure with the identity of the rule
// that raised it. A failing rule does not stop its siblings from being
// evaluated, but any EvaluationError fails the overall pass so that a
// partially-applied rule set is never committed.
type EvaluationError struct {
	Rule string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
