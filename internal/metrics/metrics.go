// Package metrics exposes load-run progress as Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/types"
)

const (
	Namespace            = "wssampler"
	DefaultListen        = "127.0.0.1:9000" // ":9000" to listen on all interfaces
	DefaultPath          = "/metrics"
	maxRequestsInFlight  = 10
	enableOpenMetrics    = true
	readHeaderTimeout    = 5 * time.Second
	maxMetricsPathLength = 50
)

// DurationBuckets are the sample duration histogram bounds in seconds
var DurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Collectors holds every collector a load run updates
type Collectors struct {
	Samples     *prometheus.CounterVec
	Duration    prometheus.Histogram
	CloseCodes  *prometheus.CounterVec
	ActiveUsers prometheus.Gauge
	Messages    prometheus.Counter
}

// New creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "samples_total",
			Help:      "Rounds sampled, by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sample_duration_seconds",
			Help:      "Wall time of a round from connect (or reuse) to report.",
			Buckets:   DurationBuckets,
		}),
		CloseCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "close_codes_total",
			Help:      "Abnormal close status codes seen by sampled rounds.",
		}, []string{"code"}),
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_users",
			Help:      "Virtual users currently running.",
		}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages counted by sampled rounds.",
		}),
	}

	if reg == nil {
		return c, nil
	}
	for _, collector := range []prometheus.Collector{c.Samples, c.Duration, c.CloseCodes, c.ActiveUsers, c.Messages} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return c, nil
}

// Observe records one round result. messages is the number of messages the
// round added to its connection's count.
func (c *Collectors) Observe(r *types.SampleResult, messages int) {
	if c == nil || r == nil {
		return
	}
	c.Samples.WithLabelValues(r.Outcome()).Inc()
	c.Duration.Observe(float64(r.DurationMs) / 1000)
	if r.ErrorCode != 0 {
		c.CloseCodes.WithLabelValues(strconv.Itoa(r.ErrorCode)).Inc()
	}
	if messages > 0 {
		c.Messages.Add(float64(messages))
	}
}

// UserStarted increments the active user gauge
func (c *Collectors) UserStarted() {
	if c != nil {
		c.ActiveUsers.Inc()
	}
}

// UserStopped decrements the active user gauge
func (c *Collectors) UserStopped() {
	if c != nil {
		c.ActiveUsers.Dec()
	}
}

// ValidateListenAddress checks addr has the host:port form. An empty host
// listens on all interfaces; a host name is left for Listen to resolve.
func ValidateListenAddress(addr string) error {
	if addr == "" {
		return errors.New("listen address is empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("invalid listen address %q: missing port", addr)
	}
	return nil
}

// ValidatePath checks path is usable as the metrics endpoint
func ValidatePath(path string) error {
	switch {
	case !strings.HasPrefix(path, "/"):
		return fmt.Errorf("metrics path %q must start with /", path)
	case len(path) > maxMetricsPathLength:
		return fmt.Errorf("metrics path %q is longer than %d characters", path, maxMetricsPathLength)
	case strings.ContainsAny(path, " \t\r\n"):
		return fmt.Errorf("metrics path %q contains whitespace", path)
	}
	return nil
}

// Serve starts an HTTP server exposing g at path. The listener is bound
// before Serve returns; the caller shuts the server down.
func Serve(addr, path string, g prometheus.Gatherer, logger zerolog.Logger) (*http.Server, error) {
	if err := ValidateListenAddress(addr); err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultPath
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics:   enableOpenMetrics,
		MaxRequestsInFlight: maxRequestsInFlight,
	}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Info().Str("address", srv.Addr).Str("path", path).Msg("prometheus metrics listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("prometheus server stopped")
		}
	}()
	return srv, nil
}
