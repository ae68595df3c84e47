package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cclash/oslbench/pkg/bench"
	"github.com/cclash/oslbench/pkg/harness"
)

type phaseView struct {
	Phase      string  `json:"phase"`
	Success    bool    `json:"success"`
	Seconds    float64 `json:"seconds"`
	Setup      float64 `json:"setup_seconds"`
	FailedStep string  `json:"failed_step,omitempty"`
	ExitCode   int     `json:"exit_code,omitempty"`
}

type reportView struct {
	RunID       string      `json:"run_id"`
	StartedAt   time.Time   `json:"started_at"`
	Seconds     float64     `json:"seconds"`
	Phases      []phaseView `json:"phases"`
	StatsBefore string      `json:"stats_before,omitempty"`
	StatsAfter  string      `json:"stats_after,omitempty"`
}

func printReport(w io.Writer, report *bench.Report) error {
	if report == nil {
		return nil
	}

	if jsonOutput {
		view := reportView{
			RunID:       report.RunID,
			StartedAt:   report.StartedAt,
			Seconds:     report.Duration.Seconds(),
			Phases:      []phaseView{},
			StatsBefore: report.StatsBefore,
			StatsAfter:  report.StatsAfter,
		}
		for _, r := range report.Results {
			view.Phases = append(view.Phases, phaseView{
				Phase:      string(r.Phase),
				Success:    r.Success,
				Seconds:    r.Elapsed.Seconds(),
				Setup:      r.Setup.Seconds(),
				FailedStep: string(r.FailedStep),
				ExitCode:   r.ExitCode,
			})
		}
		return writeJSON(w, view)
	}

	if report.StatsBefore != "" {
		fmt.Fprintf(w, "Daemon stats before:\n%s\n\n", strings.TrimRight(report.StatsBefore, "\r\n"))
	}
	if len(report.Results) > 0 {
		fmt.Fprintf(w, "Run %s\n", report.RunID)
		for _, line := range bench.Summary(report.Results) {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if report.StatsAfter != "" {
		fmt.Fprintf(w, "\nDaemon stats after:\n%s\n", strings.TrimRight(report.StatsAfter, "\r\n"))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintFailure writes what an operator needs to act on err: the captured
// output of a failed process or the path that could not be handled.
func PrintFailure(w io.Writer, err error) {
	herr, ok := harness.AsError(err)
	if !ok {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", herr.Code, herr.Message)
	if herr.Step != "" {
		fmt.Fprintf(w, "  step: %s (exit %d)\n", herr.Step, herr.ExitCode)
	}
	if herr.Path != "" {
		fmt.Fprintf(w, "  path: %s\n", herr.Path)
	}
	if herr.Err != nil {
		fmt.Fprintf(w, "  cause: %v\n", herr.Err)
	}
	if len(herr.Output) > 0 {
		fmt.Fprintf(w, "--- output ---\n%s\n", strings.TrimRight(string(herr.Output), "\r\n"))
	}
}
