package pipeline

import (
	"time"

	"github.com/google/uuid"
)

type StepOutcome string

const (
	StepOutcomeSuccess StepOutcome = "success"
	StepOutcomeSkipped StepOutcome = "skipped"
	StepOutcomeFailure StepOutcome = "failure"
)

// StepVisit records what happened to one step.
type StepVisit struct {
	StepID   string        `json:"step_id"`
	Outcome  StepOutcome   `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// State holds state across steps
type State struct {
	RunID       string
	StartedAt   time.Time
	Env         map[string]string // environment handed to child processes and the server
	StepHistory []StepVisit
	Success     bool
	Metadata    map[string]interface{}
}

// NewState starts a run over a copy of env.
func NewState(env map[string]string) *State {
	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}
	return &State{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Env:       copied,
		Metadata:  make(map[string]interface{}),
	}
}

// Visit returns the recorded visit for a step, if any.
func (s *State) Visit(stepID string) (StepVisit, bool) {
	for _, v := range s.StepHistory {
		if v.StepID == stepID {
			return v, true
		}
	}
	return StepVisit{}, false
}
