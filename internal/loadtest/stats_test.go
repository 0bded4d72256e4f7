package loadtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_Counts(t *testing.T) {
	s := NewStats()
	s.TotalSamples = 8

	for _, o := range []string{"success", "success", "mismatch", "connect_timeout", "response_timeout", "abnormal_close", "send_error", "setup_error"} {
		s.AddResult(10, o)
	}

	assert.Equal(t, 8, s.CompletedSamples)
	assert.Equal(t, 2, s.SuccessCount)
	assert.Equal(t, 1, s.MismatchCount)
	assert.Equal(t, 1, s.ConnectTimeoutCount)
	assert.Equal(t, 1, s.ResponseTimeoutCount)
	assert.Equal(t, 3, s.ErrorCount)
	assert.InDelta(t, 25.0, s.SuccessRate(), 0.001)
	assert.InDelta(t, 75.0, s.ErrorRate(), 0.001)
	assert.InDelta(t, 25.0, s.TimeoutRate(), 0.001)
	assert.InDelta(t, 100.0, s.Progress(), 0.001)
}

func TestStats_CancelledHasOwnBucket(t *testing.T) {
	s := NewStats()
	s.AddResult(5, "cancelled")

	assert.Equal(t, 1, s.CancelledCount)
	assert.Equal(t, 0, s.MismatchCount)
	assert.Equal(t, 0, s.ErrorCount)
}

func TestStats_Durations(t *testing.T) {
	s := NewStats()
	assert.Equal(t, int64(0), s.Min())
	assert.Equal(t, int64(0), s.Max())
	assert.Equal(t, int64(0), s.P50())
	assert.Equal(t, 0.0, s.AvgDurationMs())

	for i := int64(1); i <= 100; i++ {
		s.AddResult(i, "success")
	}

	assert.Equal(t, int64(1), s.Min())
	assert.Equal(t, int64(100), s.Max())
	assert.InDelta(t, 50.5, s.AvgDurationMs(), 0.001)
	assert.Equal(t, int64(50), s.P50())
	assert.Equal(t, int64(95), s.P95())
	assert.Equal(t, int64(99), s.P99())
}

func TestStats_CopyIsIndependent(t *testing.T) {
	s := NewStats()
	s.AddResult(5, "success")

	c := s.Copy()
	s.AddResult(7, "success")

	assert.Len(t, c.Durations, 1)
	assert.Equal(t, 1, c.CompletedSamples)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{PlanName: "p", Users: 1, Iterations: 1}
	assert.NoError(t, valid.Validate())

	durationOnly := Config{PlanName: "p", Users: 1, Duration: time.Second}
	assert.NoError(t, durationOnly.Validate())

	cases := map[string]Config{
		"no plan":        {Users: 1, Iterations: 1},
		"no users":       {PlanName: "p", Iterations: 1},
		"too many users": {PlanName: "p", Users: MaxUsers + 1, Iterations: 1},
		"unbounded":      {PlanName: "p", Users: 1},
		"too many iters": {PlanName: "p", Users: 1, Iterations: MaxIterations + 1},
		"negative ramp":  {PlanName: "p", Users: 1, Iterations: 1, RampUp: -time.Second},
		"negative think": {PlanName: "p", Users: 1, Iterations: 1, ThinkTime: -time.Second},
	}
	for name, c := range cases {
		assert.Error(t, c.Validate(), name)
	}
}

func TestConfig_UserOffset(t *testing.T) {
	c := Config{Users: 4, RampUp: 4 * time.Second}
	assert.Equal(t, time.Duration(0), c.UserOffset(0))
	assert.Equal(t, 3*time.Second, c.UserOffset(3))

	c.RampUp = 0
	assert.Equal(t, time.Duration(0), c.UserOffset(3))
}
