package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/logger"
)

// NewRunner constructs a Runner. You must pass a non-empty list of steps;
// they run in exactly this sequence.
func NewRunner(steps []Step, out io.Writer, observers ...Observer) *Runner {
	if len(steps) == 0 {
		panic("pipeline steps must be non-empty")
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		steps:     steps,
		out:       out,
		observers: observers,
	}
}

// Run drives every step in order. A step whose precondition does not hold is skipped;
// the first failing step ends the run and later steps never execute.
func (r *Runner) Run(ctx context.Context, state *State) error {
	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return cberrors.New(cberrors.CodeTimeoutError, "pipeline", fmt.Sprintf("run interrupted before %s", step.Name()), err)
		}

		name := step.Name()
		if ok, reason := step.Applies(ctx, state); !ok {
			fmt.Fprintf(r.out, "⏭ Skipping %s (%s)\n", name, reason)
			r.record(state, StepVisit{StepID: name, Outcome: StepOutcomeSkipped, Reason: reason})
			continue
		}

		logger.Debugf("Running step %s", name)
		fmt.Fprintf(r.out, "🔧 Running %s...\n", name)
		start := time.Now()
		err := step.Run(ctx, state)
		visit := StepVisit{StepID: name, Duration: time.Since(start)}
		if err != nil {
			visit.Outcome = StepOutcomeFailure
			visit.Error = err.Error()
			r.record(state, visit)
			fmt.Fprintf(r.out, "❌ %s failed: %v\n", name, err)
			return cberrors.New(cberrors.CodeStepFailed, "pipeline", fmt.Sprintf("step %s failed", name), &StepError{Step: name, Err: err})
		}
		visit.Outcome = StepOutcomeSuccess
		r.record(state, visit)
		fmt.Fprintf(r.out, "✅ %s succeeded\n", name)
	}

	state.Success = true
	return nil
}

// StepError carries the name of the step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the name of the step err originated from.
func FailedStep(err error) (string, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}

func (r *Runner) record(state *State, visit StepVisit) {
	state.StepHistory = append(state.StepHistory, visit)
	for _, o := range r.observers {
		o.Observe(visit)
	}
}
