package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/wssampler/internal/loadtest"
	"github.com/studiowebux/wssampler/internal/sampler"
	"github.com/studiowebux/wssampler/internal/types"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ANSI color codes
const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
)

// runReport is the machine readable form of a plan run
type runReport struct {
	Plan   string                `json:"plan" yaml:"plan"`
	Passed int                   `json:"passed" yaml:"passed"`
	Failed int                   `json:"failed" yaml:"failed"`
	Rounds []*types.SampleResult `json:"rounds" yaml:"rounds"`
}

// loadReport is the machine readable form of a load run
type loadReport struct {
	Run    *loadtest.Run            `json:"run" yaml:"run"`
	Rounds []*loadtest.RoundSummary `json:"rounds,omitempty" yaml:"rounds,omitempty"`
}

// ValidateFormat checks an --output value
func ValidateFormat(format string) error {
	switch format {
	case "", FormatText, FormatJSON, FormatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
}

// outputFormat picks the explicit format, else text on a terminal and JSON otherwise
func outputFormat(format string, out io.Writer, savePath string) string {
	if format != "" {
		return format
	}
	if savePath != "" {
		return FormatJSON
	}
	if out == nil {
		out = os.Stdout
	}
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		return FormatText
	}
	return FormatJSON
}

func marshal(v any, format string) (string, bool, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", true, err
		}
		return string(data) + "\n", true, nil
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", true, err
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// formatResults formats the results of a plan run
func formatResults(planName string, results []*types.SampleResult, format string) (string, error) {
	report := runReport{Plan: planName, Rounds: results}
	for _, r := range results {
		if r.Success {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if out, ok, err := marshal(report, format); ok {
		return out, err
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s%s%s %s (%dms)\n", outcomeColor(r.Outcome()), strings.ToUpper(r.Outcome()), colorReset, r.Name, r.DurationMs)
		if r.Reused {
			sb.WriteString("  reused connection\n")
		}
		for _, line := range sampler.LogLines(r.Log) {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
		for k, v := range r.Extracted {
			fmt.Fprintf(&sb, "  %s = %s\n", k, v)
		}
		if r.Responses != "" {
			sb.WriteString("\n  Responses:\n")
			for _, line := range strings.Split(strings.TrimRight(r.Responses, "\n"), "\n") {
				fmt.Fprintf(&sb, "    %s\n", line)
			}
		}
	}

	color := colorGreen
	if report.Failed > 0 {
		color = colorRed
	}
	fmt.Fprintf(&sb, "\n%s%d passed, %d failed%s\n", color, report.Passed, report.Failed, colorReset)
	return sb.String(), nil
}

func outcomeColor(outcome string) string {
	switch outcome {
	case "success":
		return colorGreen
	case "mismatch", "response_timeout", "cancelled":
		return colorYellow
	}
	return colorRed
}

// formatRun formats one load run with its per-round summary
func formatRun(run *loadtest.Run, rounds []*loadtest.RoundSummary, format string) (string, error) {
	if out, ok, err := marshal(loadReport{Run: run, Rounds: rounds}, format); ok {
		return out, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %d: %s (%s)\n", run.ID, run.PlanName, statusText(run.Status))
	fmt.Fprintf(&sb, "Started: %s", run.StartedAt.Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(&sb, " | Took: %s", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(&sb, "\nUsers: %d | Iterations: %d\n\n", run.Users, run.Iterations)

	fmt.Fprintf(&sb, "Samples:           %d\n", run.TotalSamples)
	fmt.Fprintf(&sb, "Success:           %d\n", run.TotalSuccess)
	fmt.Fprintf(&sb, "Mismatch:          %d\n", run.TotalMismatch)
	fmt.Fprintf(&sb, "Connect timeouts:  %d\n", run.TotalConnectTimeouts)
	fmt.Fprintf(&sb, "Response timeouts: %d\n", run.TotalResponseTimeouts)
	fmt.Fprintf(&sb, "Cancelled:         %d\n", run.TotalCancelled)
	fmt.Fprintf(&sb, "Errors:            %d\n\n", run.TotalErrors)

	fmt.Fprintf(&sb, "Duration avg %.1fms | min %dms | max %dms\n", run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs)
	fmt.Fprintf(&sb, "P50 %dms | P95 %dms | P99 %dms\n", run.P50DurationMs, run.P95DurationMs, run.P99DurationMs)

	if len(rounds) > 0 {
		sb.WriteString("\nRounds:\n")
		for _, r := range rounds {
			fmt.Fprintf(&sb, "  %-24s %6d samples %6d ok  avg %.1fms\n", r.RoundName, r.Samples, r.Success, r.AvgDurationMs)
		}
	}
	return sb.String(), nil
}

// formatRuns formats a list of load runs
func formatRuns(runs []*loadtest.Run, format string) (string, error) {
	if runs == nil {
		runs = []*loadtest.Run{}
	}
	if out, ok, err := marshal(runs, format); ok {
		return out, err
	}

	if len(runs) == 0 {
		return "No load runs recorded\n", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s %-20s %-19s %-10s %8s %8s %8s\n", "ID", "PLAN", "STARTED", "STATUS", "SAMPLES", "SUCCESS", "P95")
	for _, r := range runs {
		fmt.Fprintf(&sb, "%-6d %-20s %-19s %-10s %8d %8d %6dms\n",
			r.ID, truncate(r.PlanName, 20), r.StartedAt.Format(time.DateTime), r.Status, r.TotalSamples, r.TotalSuccess, r.P95DurationMs)
	}
	return sb.String(), nil
}

func statusText(status string) string {
	switch status {
	case loadtest.StatusCompleted:
		return colorGreen + status + colorReset
	case loadtest.StatusFailed:
		return colorRed + status + colorReset
	}
	return colorYellow + status + colorReset
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

// formatProgress renders one line of load run progress
func formatProgress(stats *loadtest.Stats, elapsed time.Duration) string {
	progress := ""
	if stats.TotalSamples > 0 {
		progress = fmt.Sprintf(" %5.1f%%", stats.Progress())
	}
	return fmt.Sprintf("[%s]%s samples %d | users %d | ok %.1f%% | p95 %dms",
		elapsed.Round(time.Second), progress, stats.CompletedSamples, stats.ActiveUsers, stats.SuccessRate(), stats.P95())
}
