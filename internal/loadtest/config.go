package loadtest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/metrics"
	"github.com/studiowebux/wssampler/internal/transport"
	"github.com/studiowebux/wssampler/internal/types"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Limits enforced by Config.Validate
const (
	MaxUsers      = 1000
	MaxIterations = 1000000
)

// Config represents a load run configuration
type Config struct {
	PlanName   string
	PlanFile   string
	Users      int
	Iterations int           // total plan passes shared by all users; 0 with Duration set means unlimited
	RampUp     time.Duration // users start evenly spread over this window
	Duration   time.Duration // 0 means no time limit
	ThinkTime  time.Duration // pause after each round
}

// Run represents a load run record
type Run struct {
	ID                    int64
	PlanName              string
	PlanFile              string
	Users                 int
	Iterations            int
	StartedAt             time.Time
	CompletedAt           *time.Time
	Status                string // "running", "completed", "cancelled", "failed"
	TotalSamples          int
	TotalSuccess          int
	TotalMismatch         int
	TotalConnectTimeouts  int
	TotalResponseTimeouts int
	TotalCancelled        int
	TotalErrors           int
	AvgDurationMs         float64
	MinDurationMs         int64
	MaxDurationMs         int64
	P50DurationMs         int64
	P95DurationMs         int64
	P99DurationMs         int64
}

// Sample is one round result of a load run
type Sample struct {
	ID           int64
	RunID        int64
	UserID       int
	Iteration    int
	RoundName    string
	Timestamp    time.Time
	ElapsedMs    int64
	DurationMs   int64
	Outcome      string
	Matched      bool
	Reused       bool
	ErrorCode    int
	MessageCount int
	ErrorMessage string
}

// RoundSummary aggregates the samples of one round name
type RoundSummary struct {
	RoundName     string
	Samples       int
	Success       int
	AvgDurationMs float64
}

// ExecutionConfig contains the runtime configuration for executing a load run
type ExecutionConfig struct {
	Config    *Config
	Rounds    []types.Round
	Variables map[string]string // plan variables
	CLIVars   map[string]string
	EnvVars   map[string]string
	Factory   transport.Factory
	Metrics   *metrics.Collectors // optional
	Logger    zerolog.Logger
}

// Validate validates the load run configuration
func (c *Config) Validate() error {
	if c.PlanName == "" {
		return fmt.Errorf("plan name is required")
	}
	if c.Users <= 0 {
		return fmt.Errorf("users must be greater than 0")
	}
	if c.Users > MaxUsers {
		return fmt.Errorf("users cannot exceed %d", MaxUsers)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations cannot be negative")
	}
	if c.Iterations == 0 && c.Duration == 0 {
		return fmt.Errorf("iterations must be greater than 0 when no duration is set")
	}
	if c.Iterations > MaxIterations {
		return fmt.Errorf("iterations cannot exceed 1,000,000")
	}
	if c.RampUp < 0 {
		return fmt.Errorf("ramp-up duration cannot be negative")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if c.ThinkTime < 0 {
		return fmt.Errorf("think time cannot be negative")
	}
	return nil
}

// UserOffset returns when user i (0-based) starts relative to the run start
func (c *Config) UserOffset(i int) time.Duration {
	if c.RampUp <= 0 || c.Users <= 1 {
		return 0
	}
	return time.Duration(i) * (c.RampUp / time.Duration(c.Users))
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled || r.Status == StatusFailed
}
