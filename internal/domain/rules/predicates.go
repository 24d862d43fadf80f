package rules

import (
	"context"
	"fmt"
)

// Predicate combinators. Rule groups compose these so that declarations
// read like the protocol's own wording, e.g.
//
//	Logic{
//	    Predicate:   FieldEquals("f1", "car"),
//	    Consequence: VerdictRequired,
//	    Alternative: VerdictNotRequired,
//	}

// SourceExists holds when the rule's source record has been keyed.
func SourceExists() Predicate {
	return func(_ context.Context, e *Evaluation) (bool, error) {
		return e.SourceExists, nil
	}
}

// FieldEquals holds when the source record exists and its payload field
// equals want. Numeric payload values are compared by their printed form,
// since JSON decoding widens all numbers to float64.
func FieldEquals(name string, want interface{}) Predicate {
	return func(_ context.Context, e *Evaluation) (bool, error) {
		if e.Source == nil {
			return false, nil
		}
		got, ok := e.Source.Field(name)
		if !ok {
			return false, nil
		}
		return equalValues(got, want), nil
	}
}

// FieldIn holds when the source field equals any of the given values.
func FieldIn(name string, want ...interface{}) Predicate {
	return func(_ context.Context, e *Evaluation) (bool, error) {
		if e.Source == nil {
			return false, nil
		}
		got, ok := e.Source.Field(name)
		if !ok {
			return false, nil
		}
		for _, w := range want {
			if equalValues(got, w) {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(ctx context.Context, e *Evaluation) (bool, error) {
		ok, err := p(ctx, e)
		return !ok, err
	}
}

// All holds when every predicate holds.
func All(ps ...Predicate) Predicate {
	return func(ctx context.Context, e *Evaluation) (bool, error) {
		for _, p := range ps {
			ok, err := p(ctx, e)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Any holds when at least one predicate holds.
func Any(ps ...Predicate) Predicate {
	return func(ctx context.Context, e *Evaluation) (bool, error) {
		for _, p := range ps {
			ok, err := p(ctx, e)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func equalValues(got, want interface{}) bool {
	if got == want {
		return true
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}
