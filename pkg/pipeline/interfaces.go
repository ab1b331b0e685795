package pipeline

import (
	"context"
	"io"
)

// Step is one unit of a bootstrap sequence.
type Step interface {
	// Name identifies the step in logs, reports and metrics
	Name() string

	// Applies evaluates the step's precondition. When it returns false the step is
	// recorded as skipped together with the reason.
	Applies(ctx context.Context, state *State) (bool, string)

	// Run performs the step. Any error aborts the sequence.
	Run(ctx context.Context, state *State) error
}

// Observer is notified after every step visit.
type Observer interface {
	Observe(visit StepVisit)
}

// Runner executes steps strictly in order and stops at the first failure.
type Runner struct {
	steps     []Step
	out       io.Writer
	observers []Observer
}
