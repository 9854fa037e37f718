package game

import (
	"fmt"
	"math"

	"scoreboardAPI/internal/store"
)

const (
	PolicyFlat       = "flat"
	PolicyReciprocal = "reciprocal"
	PolicyDecay      = "decay"
)

// ScoringPolicy turns the number of distinct solvers of a flag into its
// current score. Implementations must be non-increasing in solvers and must
// not depend on anything but their arguments.
type ScoringPolicy interface {
	Score(solvers int) int
}

type flatPolicy struct {
	base int
}

func (p flatPolicy) Score(int) int {
	return p.base
}

// reciprocalPolicy scores base / (1 + solvers).
type reciprocalPolicy struct {
	base, min int
}

func (p reciprocalPolicy) Score(solvers int) int {
	return max(p.base/(1+solvers), p.min)
}

// decayPolicy keeps the full base score for the first solver and then decays
// exponentially towards min.
type decayPolicy struct {
	base, min int
	decay     float64
}

func (p decayPolicy) Score(solvers int) int {
	if solvers <= 1 {
		return p.base
	}
	factor := math.Exp(-float64(solvers-1) / p.decay)
	score := int(math.Round(float64(p.min) + float64(p.base-p.min)*factor))
	return max(min(score, p.base), p.min)
}

// NewPolicy validates params against base and builds the policy.
func NewPolicy(params store.PolicyParams, base int) (ScoringPolicy, error) {
	if base < 0 {
		return nil, fmt.Errorf("%w: negative base score %d", ErrPolicy, base)
	}
	if params.MinScore < 0 || params.MinScore > base {
		return nil, fmt.Errorf("%w: min score %d outside [0, %d]", ErrPolicy, params.MinScore, base)
	}

	switch params.Kind {
	case PolicyFlat:
		return flatPolicy{base: base}, nil
	case PolicyReciprocal:
		return reciprocalPolicy{base: base, min: params.MinScore}, nil
	case PolicyDecay:
		if !(params.Decay > 0) || math.IsInf(params.Decay, 0) {
			return nil, fmt.Errorf("%w: decay must be positive, got %v", ErrPolicy, params.Decay)
		}
		return decayPolicy{base: base, min: params.MinScore, decay: params.Decay}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrPolicy, params.Kind)
	}
}

// fallbackScore is what a flag with a broken policy is worth.
func fallbackScore(base, minScore int) int {
	return max(0, min(minScore, base))
}
