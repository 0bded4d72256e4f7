/*
Package loadtest drives a sampling plan with many concurrent virtual users.

# Overview

The loadtest package runs the rounds of a plan against a WebSocket endpoint
with:
  - A fixed number of virtual users, each with its own sampler
  - Ramp-up that spreads user start times evenly
  - A shared iteration budget and an optional time limit
  - Think time between rounds
  - Prometheus metrics and SQLite persistence of every sample

# Architecture

The package consists of three main components:

1. Manager (manager.go): Database operations for runs and samples
2. Executor (executor.go): Concurrent run engine
3. Config (config.go): Configuration and validation

# Executor Design

Each virtual user owns one sampler, so a streaming round keeps its
connection from one iteration to the next. Users pull iteration tasks from
a shared channel until the budget is spent, the duration elapses or the
run is stopped. Round results go through a single collector that updates
the statistics, feeds the metrics and writes samples in batches.

Every user also defines two session variables:

	{{vu}}            1-based user number
	{{vu.iteration}}  0-based iteration number

# Statistics

Outcomes are counted as success, mismatch, connect timeout, response
timeout, cancelled, or error. Rounds cut short by Stop or the duration limit
land in cancelled. Durations feed min/max/average and the P50, P95 and P99
percentiles.

# Database Schema

SQLite database stores:
  - load_runs: Run records with their final statistics
  - load_samples: One row per round result

# Example Usage

	manager, err := NewManager("wssampler.db")
	if err != nil {
		return err
	}
	defer manager.Close()

	executor, err := NewExecutor(&ExecutionConfig{
		Config: &Config{
			PlanName:   "chat",
			PlanFile:   "chat.yaml",
			Users:      50,
			Iterations: 1000,
			RampUp:     10 * time.Second,
		},
		Rounds: rounds,
		Logger: logger,
	}, manager)
	if err != nil {
		return err
	}

	executor.Start(ctx)
	err = executor.Wait()

	run := executor.GetRun()
	fmt.Printf("Completed %d samples\n", run.TotalSamples)
	fmt.Printf("P95 latency: %dms\n", run.P95DurationMs)

# Cancellation

A run ends early when its context is cancelled, its duration elapses, or
Stop is called. In-flight rounds are released by closing their sessions and
buffered samples are flushed before the run record is finalized.
*/
package loadtest
