package cli

import (
	"fmt"
	"io"

	"github.com/studiowebux/wssampler/internal/loadtest"
)

// RunsOptions selects the run database and output
type RunsOptions struct {
	DBPath       string
	OutputFormat string
	Out          io.Writer
}

// ListRuns prints the most recent load runs; limit 0 prints all
func ListRuns(opts RunsOptions, limit int) error {
	manager, err := loadtest.NewManager(opts.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	runs, err := manager.ListRuns(limit)
	if err != nil {
		return err
	}

	output, err := formatRuns(runs, outputFormat(opts.OutputFormat, opts.Out, ""))
	if err != nil {
		return err
	}
	return emit(output, "", opts.Out)
}

// ShowRun prints one load run with its per-round summary
func ShowRun(opts RunsOptions, id int64) error {
	manager, err := loadtest.NewManager(opts.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	run, err := manager.GetRun(id)
	if err != nil {
		return err
	}
	summary, err := manager.GetRoundSummary(id)
	if err != nil {
		return err
	}

	output, err := formatRun(run, summary, outputFormat(opts.OutputFormat, opts.Out, ""))
	if err != nil {
		return err
	}
	return emit(output, "", opts.Out)
}

// DeleteRun removes a load run and its samples
func DeleteRun(opts RunsOptions, id int64) error {
	manager, err := loadtest.NewManager(opts.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.DeleteRun(id); err != nil {
		return err
	}
	return emit(fmt.Sprintf("Deleted run %d\n", id), "", opts.Out)
}
