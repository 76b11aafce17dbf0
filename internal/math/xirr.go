package math

import (
	gomath "math"

	"cloud.google.com/go/civil"
)

const (
	solverInitialGuess = 0.1
	solverInitialStep  = 0.05
	solverTolerance    = 1e-10
	solverMaxIter      = 100_000
)

// CashFlow is a signed amount on a date.
type CashFlow struct {
	Date   civil.Date
	Amount float64
}

// SolveResult is the outcome of a rate search.
type SolveResult struct {
	Rate       float64
	Iterations int
	// Converged is false when the iteration limit was reached; Rate then
	// holds the last guess.
	Converged bool
}

// SolveRate finds r such that Σ CF_i / (1+r)^((d_i - d_0)/365) ≈ 0, where d_0
// is the earliest date in flows.
//
// The search starts at 0.1 with a step of 0.05. A positive sum raises the
// guess by the step; a negative sum lowers it and halves the step. It stops
// once |sum| <= 1e-10 or after 100000 iterations and never fails.
func SolveRate(flows []CashFlow) SolveResult {
	if len(flows) == 0 {
		return SolveResult{Rate: solverInitialGuess}
	}

	anchor := flows[0].Date
	for _, f := range flows[1:] {
		if f.Date.Before(anchor) {
			anchor = f.Date
		}
	}
	years := make([]float64, len(flows))
	for i, f := range flows {
		years[i] = float64(f.Date.DaysSince(anchor)) / 365.0
	}

	guess, step := solverInitialGuess, solverInitialStep
	for i := 1; i <= solverMaxIter; i++ {
		residual := 0.0
		for j, f := range flows {
			residual += f.Amount / gomath.Pow(1+guess, years[j])
		}
		if gomath.Abs(residual) <= solverTolerance {
			return SolveResult{Rate: guess, Iterations: i, Converged: true}
		}
		if residual > 0 {
			guess += step
		} else {
			guess -= step
			step /= 2
		}
	}
	return SolveResult{Rate: guess, Iterations: solverMaxIter}
}
