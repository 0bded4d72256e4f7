package loadtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/wssampler/internal/parser"
	"github.com/studiowebux/wssampler/internal/sampler"
	"github.com/studiowebux/wssampler/internal/types"
)

const sampleBufferSize = 100

// Variables every virtual user defines for its rounds
const (
	UserVariable      = "vu"           // 1-based user number
	IterationVariable = "vu.iteration" // 0-based iteration number
)

// IterationTask is one pass over the plan's rounds
type IterationTask struct {
	SequenceNum int
}

// roundResult is what a user hands to the collector
type roundResult struct {
	userID    int
	iteration int
	elapsed   time.Duration
	messages  int // messages added by this round
	result    *types.SampleResult
}

// Executor handles concurrent load run execution
type Executor struct {
	config      *ExecutionConfig
	manager     *Manager
	run         *Run
	stats       *Stats
	log         zerolog.Logger
	ctx         context.Context
	cancelFunc  context.CancelFunc
	group       *errgroup.Group
	taskChan    chan IterationTask
	resultChan  chan roundResult
	collectDone chan struct{}
	testStart   time.Time
	statsMu     sync.Mutex
	activeUsers int32
	stopped     atomic.Bool
	timedOut    atomic.Bool
	samplesBuf  []*Sample
	flushErr    error
	waitOnce    sync.Once
	waitErr     error
}

// NewExecutor creates a new load run executor and its run record
func NewExecutor(config *ExecutionConfig, manager *Manager) (*Executor, error) {
	if err := config.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(config.Rounds) == 0 {
		return nil, fmt.Errorf("invalid config: no rounds to run")
	}

	run := &Run{
		PlanName:   config.Config.PlanName,
		PlanFile:   config.Config.PlanFile,
		Users:      config.Config.Users,
		Iterations: config.Config.Iterations,
		StartedAt:  time.Now(),
		Status:     StatusRunning,
	}
	if err := manager.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	stats := NewStats()
	stats.TotalSamples = config.Config.Iterations * len(config.Rounds)

	return &Executor{
		config:      config,
		manager:     manager,
		run:         run,
		stats:       stats,
		log:         config.Logger.With().Str("component", "loadtest").Int64("run", run.ID).Logger(),
		taskChan:    make(chan IterationTask, config.Config.Users*2),
		resultChan:  make(chan roundResult, config.Config.Users*2),
		collectDone: make(chan struct{}),
		samplesBuf:  make([]*Sample, 0, sampleBufferSize),
	}, nil
}

// Start begins the load run. Cancelling ctx stops it like Stop.
func (e *Executor) Start(ctx context.Context) {
	e.ctx, e.cancelFunc = context.WithCancel(ctx)
	e.testStart = time.Now()

	e.log.Info().
		Str("plan", e.config.Config.PlanName).
		Int("users", e.config.Config.Users).
		Int("iterations", e.config.Config.Iterations).
		Dur("ramp_up", e.config.Config.RampUp).
		Dur("duration", e.config.Config.Duration).
		Msg("load run started")

	e.group = &errgroup.Group{}
	for i := 0; i < e.config.Config.Users; i++ {
		userID := i + 1
		offset := e.config.Config.UserOffset(i)
		e.group.Go(func() error {
			e.user(userID, offset)
			return nil
		})
	}

	go e.collectResults()
	go e.scheduleIterations()

	if d := e.config.Config.Duration; d > 0 {
		go e.durationTimer(d)
	}
}

// durationTimer cancels the run after the specified duration
func (e *Executor) durationTimer(duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		e.timedOut.Store(true)
		e.cancelFunc()
	case <-e.ctx.Done():
	}
}

// scheduleIterations queues iteration tasks; unlimited when Iterations is 0
func (e *Executor) scheduleIterations() {
	defer close(e.taskChan)

	total := e.config.Config.Iterations
	for i := 0; total == 0 || i < total; i++ {
		select {
		case <-e.ctx.Done():
			return
		case e.taskChan <- IterationTask{SequenceNum: i}:
		}
	}
}

// user runs as one virtual user with its own sampler and variables
func (e *Executor) user(id int, offset time.Duration) {
	if offset > 0 {
		timer := time.NewTimer(offset)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	log := e.log.With().Int("user", id).Logger()
	resolver := parser.NewVariableResolver(e.config.Variables, nil, e.config.CLIVars, e.config.EnvVars)
	resolver.AddSessionVariable(UserVariable, strconv.Itoa(id))
	s := sampler.New(sampler.Options{
		Factory:  e.config.Factory,
		Logger:   log,
		Resolver: resolver,
	})
	defer s.Close()

	atomic.AddInt32(&e.activeUsers, 1)
	e.config.Metrics.UserStarted()
	defer func() {
		atomic.AddInt32(&e.activeUsers, -1)
		e.config.Metrics.UserStopped()
	}()

	lastCount := 0
	for {
		select {
		case <-e.ctx.Done():
			return
		case task, ok := <-e.taskChan:
			if !ok {
				return
			}
			resolver.AddSessionVariable(IterationVariable, strconv.Itoa(task.SequenceNum))

			for _, round := range e.config.Rounds {
				if e.ctx.Err() != nil {
					return
				}

				res := s.RunRound(e.ctx, round)
				messages := res.MessageCount
				if res.Reused {
					messages -= lastCount
				}
				lastCount = res.MessageCount

				// the collector drains until every user is done
				e.resultChan <- roundResult{
					userID:    id,
					iteration: task.SequenceNum,
					elapsed:   time.Since(e.testStart),
					messages:  messages,
					result:    res,
				}

				if !e.think() {
					return
				}
			}
		}
	}
}

func (e *Executor) think() bool {
	d := e.config.Config.ThinkTime
	if d <= 0 {
		return e.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// collectResults collects and processes round results
func (e *Executor) collectResults() {
	defer close(e.collectDone)

	for rr := range e.resultChan {
		res := rr.result
		outcome := res.Outcome()

		e.statsMu.Lock()
		e.stats.AddResult(res.DurationMs, outcome)
		e.statsMu.Unlock()

		e.config.Metrics.Observe(res, rr.messages)

		sample := &Sample{
			RunID:        e.run.ID,
			UserID:       rr.userID,
			Iteration:    rr.iteration,
			RoundName:    res.Name,
			Timestamp:    res.StartedAt,
			ElapsedMs:    rr.elapsed.Milliseconds(),
			DurationMs:   res.DurationMs,
			Outcome:      outcome,
			Matched:      res.Matched,
			Reused:       res.Reused,
			ErrorCode:    res.ErrorCode,
			MessageCount: res.MessageCount,
			ErrorMessage: sampleError(res),
		}
		if outcome != "success" {
			e.log.Debug().Int("user", rr.userID).Str("round", res.Name).Str("outcome", outcome).Msg("round failed")
		}

		e.samplesBuf = append(e.samplesBuf, sample)
		if len(e.samplesBuf) >= sampleBufferSize {
			e.flushSamples()
		}
	}

	e.flushSamples()
}

func sampleError(res *types.SampleResult) string {
	switch {
	case res.Cancelled:
		return "cancelled before a match"
	case res.SetupError != "":
		return res.SetupError
	case res.SendError != "":
		return res.SendError
	case res.ExtractError != "":
		return res.ExtractError
	case res.ErrorCode != 0:
		return fmt.Sprintf("closed with status %d", res.ErrorCode)
	}
	return ""
}

// flushSamples writes buffered samples to database
func (e *Executor) flushSamples() {
	if len(e.samplesBuf) == 0 {
		return
	}

	if err := e.manager.SaveSamplesBatch(e.samplesBuf); err != nil {
		// keep running; the run is marked failed at the end
		e.log.Error().Err(err).Int("samples", len(e.samplesBuf)).Msg("failed to save samples")
		e.statsMu.Lock()
		e.flushErr = err
		e.statsMu.Unlock()
	}

	e.samplesBuf = e.samplesBuf[:0]
}

// Stop cancels the load run and waits for it to wind down
func (e *Executor) Stop() error {
	e.stopped.Store(true)
	e.cancelFunc()
	return e.Wait()
}

// Wait waits for the load run to complete and finalizes the run record.
// It returns an error when samples or the run record could not be saved.
func (e *Executor) Wait() error {
	e.waitOnce.Do(func() {
		_ = e.group.Wait()
		close(e.resultChan)
		<-e.collectDone
		e.cancelFunc()

		e.waitErr = e.finalize(e.status())
	})
	return e.waitErr
}

func (e *Executor) status() string {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	switch {
	case e.flushErr != nil:
		return StatusFailed
	case e.stopped.Load():
		return StatusCancelled
	case e.timedOut.Load():
		return StatusCompleted // reaching the duration is still "completed"
	case e.stats.TotalSamples > 0 && e.stats.CompletedSamples >= e.stats.TotalSamples:
		return StatusCompleted
	default:
		return StatusCancelled
	}
}

// GetStats returns the current statistics (thread-safe)
func (e *Executor) GetStats() *Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	c := e.stats.Copy()
	c.ActiveUsers = int(atomic.LoadInt32(&e.activeUsers))
	return c
}

// GetRun returns the current run record
func (e *Executor) GetRun() *Run {
	return e.run
}

// finalize completes the run record with final statistics
func (e *Executor) finalize(status string) error {
	e.statsMu.Lock()
	now := time.Now()
	e.run.CompletedAt = &now
	e.run.Status = status
	e.run.TotalSamples = e.stats.CompletedSamples
	e.run.TotalSuccess = e.stats.SuccessCount
	e.run.TotalMismatch = e.stats.MismatchCount
	e.run.TotalConnectTimeouts = e.stats.ConnectTimeoutCount
	e.run.TotalResponseTimeouts = e.stats.ResponseTimeoutCount
	e.run.TotalCancelled = e.stats.CancelledCount
	e.run.TotalErrors = e.stats.ErrorCount
	e.run.AvgDurationMs = e.stats.AvgDurationMs()
	e.run.MinDurationMs = e.stats.Min()
	e.run.MaxDurationMs = e.stats.Max()
	e.run.P50DurationMs = e.stats.P50()
	e.run.P95DurationMs = e.stats.P95()
	e.run.P99DurationMs = e.stats.P99()
	flushErr := e.flushErr
	e.statsMu.Unlock()

	e.log.Info().
		Str("status", status).
		Int("samples", e.run.TotalSamples).
		Int("success", e.run.TotalSuccess).
		Int64("p95_ms", e.run.P95DurationMs).
		Msg("load run finished")

	if err := e.manager.UpdateRun(e.run); err != nil {
		return err
	}
	if flushErr != nil {
		return fmt.Errorf("some samples were not saved: %w", flushErr)
	}
	return nil
}
