package loadtest

import (
	"math"
	"slices"
)

// Stats holds the running counters of a load run. It is not safe for
// concurrent use; the executor guards it.
type Stats struct {
	TotalSamples         int // expected; 0 when the run is only bounded by time
	CompletedSamples     int
	SuccessCount         int
	MismatchCount        int // answered but never matched
	ConnectTimeoutCount  int
	ResponseTimeoutCount int
	CancelledCount       int // interrupted by Stop or the duration limit
	ErrorCount           int // abnormal closes, send, extract and setup errors
	ActiveUsers          int
	Durations            []int64
	sumMs                int64
	minMs, maxMs         int64
}

func NewStats() *Stats {
	return &Stats{Durations: make([]int64, 0, 1024)}
}

// AddResult records one round. outcome is types.SampleResult.Outcome().
func (s *Stats) AddResult(durationMs int64, outcome string) {
	if s.CompletedSamples == 0 || durationMs < s.minMs {
		s.minMs = durationMs
	}
	if durationMs > s.maxMs {
		s.maxMs = durationMs
	}
	s.CompletedSamples++
	s.sumMs += durationMs
	s.Durations = append(s.Durations, durationMs)

	switch outcome {
	case "success":
		s.SuccessCount++
	case "mismatch":
		s.MismatchCount++
	case "connect_timeout":
		s.ConnectTimeoutCount++
	case "response_timeout":
		s.ResponseTimeoutCount++
	case "cancelled":
		s.CancelledCount++
	default:
		s.ErrorCount++
	}
}

// Copy returns a snapshot that shares nothing with s
func (s *Stats) Copy() *Stats {
	c := *s
	c.Durations = slices.Clone(s.Durations)
	return &c
}

func (s *Stats) AvgDurationMs() float64 {
	if s.CompletedSamples == 0 {
		return 0
	}
	return float64(s.sumMs) / float64(s.CompletedSamples)
}

// Min and Max are 0 before the first result
func (s *Stats) Min() int64 { return s.minMs }
func (s *Stats) Max() int64 { return s.maxMs }

// Percentile returns the nearest-rank percentile, p in [0, 100]
func (s *Stats) Percentile(p float64) int64 {
	n := len(s.Durations)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(s.Durations)
	slices.Sort(sorted)

	rank := int(math.Ceil(p / 100 * float64(n)))
	return sorted[min(max(rank, 1), n)-1]
}

func (s *Stats) P50() int64 { return s.Percentile(50) }
func (s *Stats) P95() int64 { return s.Percentile(95) }
func (s *Stats) P99() int64 { return s.Percentile(99) }

// SuccessRate, ErrorRate and TimeoutRate are percentages of completed samples
func (s *Stats) SuccessRate() float64 { return s.percentOf(s.SuccessCount) }

// ErrorRate counts everything that is not a success
func (s *Stats) ErrorRate() float64 {
	return s.percentOf(s.CompletedSamples - s.SuccessCount)
}

func (s *Stats) TimeoutRate() float64 {
	return s.percentOf(s.ConnectTimeoutCount + s.ResponseTimeoutCount)
}

func (s *Stats) percentOf(n int) float64 {
	if s.CompletedSamples == 0 {
		return 0
	}
	return float64(n) * 100 / float64(s.CompletedSamples)
}

// Progress is the completed share of TotalSamples, 0 for time-bounded runs
func (s *Stats) Progress() float64 {
	if s.TotalSamples == 0 {
		return 0
	}
	return float64(s.CompletedSamples) * 100 / float64(s.TotalSamples)
}
