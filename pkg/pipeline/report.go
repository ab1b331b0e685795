package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/container-bootstrap/pkg/logger"
)

type RunOutcome string

const (
	RunOutcomeSuccess RunOutcome = "success"
	RunOutcomeFailure RunOutcome = "failure"
	RunOutcomeTimeout RunOutcome = "timeout"
)

const ReportDirectory = ".bootstrap-report"

const RunReportFileName = "run_report.json"

const ReportMarkdownFileName = "report.md"

type RunReport struct {
	RunID        string      `json:"run_id"`
	Command      string      `json:"command"`
	Outcome      RunOutcome  `json:"outcome"`
	StartedAt    time.Time   `json:"started_at"`
	StepHistory  []StepVisit `json:"step_history"`
	DatabaseURL  bool        `json:"database_url_set"`
	FailedStepID string      `json:"failed_step,omitempty"`
}

func outcome(ctx context.Context, state *State) RunOutcome {
	if state.Success {
		return RunOutcomeSuccess
	}
	if ctx.Err() == context.DeadlineExceeded || ctx.Err() == context.Canceled {
		return RunOutcomeTimeout
	}
	return RunOutcomeFailure
}

func NewReport(ctx context.Context, state *State, command string) *RunReport {
	report := &RunReport{
		RunID:       state.RunID,
		Command:     command,
		Outcome:     outcome(ctx, state),
		StartedAt:   state.StartedAt,
		StepHistory: state.StepHistory,
	}
	_, report.DatabaseURL = state.Env["DATABASE_URL"]
	for _, v := range state.StepHistory {
		if v.Outcome == StepOutcomeFailure {
			report.FailedStepID = v.StepID
		}
	}
	return report
}

// formatMarkdownReport renders the same information as RunReport as a table.
func formatMarkdownReport(report *RunReport) string {
	var md strings.Builder

	md.WriteString(fmt.Sprintf("# %s run %s\n\n", report.Command, report.RunID))
	md.WriteString(fmt.Sprintf("**Outcome:** %s\n\n", report.Outcome))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", report.StartedAt.Format(time.RFC3339)))
	md.WriteString("## Step History\n\n")

	if len(report.StepHistory) == 0 {
		md.WriteString("No steps recorded.\n")
		return md.String()
	}
	md.WriteString("| Step | Outcome | Duration | Detail |\n")
	md.WriteString("|------|---------|----------|--------|\n")
	for _, v := range report.StepHistory {
		detail := v.Reason
		if v.Error != "" {
			detail = v.Error
		}
		md.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", v.StepID, v.Outcome, v.Duration.Round(time.Millisecond), detail))
	}
	return md.String()
}

// WriteReport writes run_report.json and report.md under <targetDir>/.bootstrap-report.
func WriteReport(ctx context.Context, state *State, command string, targetDir string) error {
	reportDirectoryPath := filepath.Join(targetDir, ReportDirectory)
	if err := os.MkdirAll(reportDirectoryPath, 0755); err != nil {
		logger.Errorf("Error creating report directory %s: %v", reportDirectoryPath, err)
		return fmt.Errorf("creating report directory: %w", err)
	}

	report := NewReport(ctx, state, command)
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling run report: %w", err)
	}
	reportFile := filepath.Join(reportDirectoryPath, RunReportFileName)
	logger.Debugf("Writing run report to %s", reportFile)
	if err := os.WriteFile(reportFile, reportJSON, 0644); err != nil {
		return fmt.Errorf("writing run report: %w", err)
	}

	reportMarkdownFile := filepath.Join(reportDirectoryPath, ReportMarkdownFileName)
	logger.Debugf("Writing markdown report to %s", reportMarkdownFile)
	if err := os.WriteFile(reportMarkdownFile, []byte(formatMarkdownReport(report)), 0644); err != nil {
		return fmt.Errorf("writing markdown report: %w", err)
	}

	return nil
}
