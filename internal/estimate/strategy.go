// Package estimate turns one unit's matched groups into a local CATE
// estimate.
package estimate

import (
	"fmt"
	"strings"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
)

// Method is a local estimation strategy.
type Method uint8

const (
	// Mean is the treated-minus-control difference of group means.
	Mean Method = iota
	// Linear fits one ridge model per arm block on every covariate.
	Linear
	// LinearPruned is Linear restricted to covariates with positive weight.
	LinearPruned
)

const augmentedSuffix = "_augmented"

var methodNames = [...]string{
	Mean:         "mean",
	Linear:       "linear",
	LinearPruned: "linear_pruned",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", m)
}

// ParseMethod resolves a method name.
func ParseMethod(s string) (Method, error) {
	for m, name := range methodNames {
		if s == name {
			return Method(m), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown estimation method %q", core.ErrInvalidArgument, s)
}

// Strategy is a method plus its augmentation flag.
type Strategy struct {
	Method    Method
	Augmented bool
}

// ParseStrategy is the single resolution point for textual strategy names
// such as "linear" or "linear_pruned_augmented".
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	st := Strategy{}
	if base, ok := strings.CutSuffix(s, augmentedSuffix); ok {
		st.Augmented = true
		s = base
	}
	m, err := ParseMethod(s)
	if err != nil {
		return Strategy{}, err
	}
	st.Method = m
	return st, nil
}

// ParseStrategies parses a comma separated list and adds the augmented
// variant of each entry when augment is set. A label already present is
// skipped, so "linear,linear_augmented" with augment set yields two strategies.
func ParseStrategies(list string, augment bool) ([]Strategy, error) {
	var out []Strategy
	seen := map[string]bool{}
	add := func(st Strategy) {
		if seen[st.Label()] {
			return
		}
		seen[st.Label()] = true
		out = append(out, st)
	}
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := ParseStrategy(part)
		if err != nil {
			return nil, lcmerrors.WrapConfigurationError(err, "estimate.ParseStrategies", "bad strategy list")
		}
		add(st)
		if augment && !st.Augmented {
			add(Strategy{Method: st.Method, Augmented: true})
		}
	}
	if len(out) == 0 {
		return nil, lcmerrors.NewConfigurationError("estimate.ParseStrategies", "no estimation strategy requested")
	}
	return out, nil
}

// Label is the column suffix for the strategy's results.
func (s Strategy) Label() string {
	if s.Augmented {
		return s.Method.String() + augmentedSuffix
	}
	return s.Method.String()
}

func (s Strategy) String() string { return s.Label() }

// AnyAugmented reports whether any strategy needs global predictions.
func AnyAugmented(strategies []Strategy) bool {
	for _, s := range strategies {
		if s.Augmented {
			return true
		}
	}
	return false
}
