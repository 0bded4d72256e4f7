package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/loadtest"
	"github.com/studiowebux/wssampler/internal/metrics"
	"github.com/studiowebux/wssampler/internal/plan"
)

const defaultProgressInterval = 2 * time.Second

// LoadOptions contains options for a load run. Zero values fall back to the
// plan's load section.
type LoadOptions struct {
	PlanPath         string
	Users            int
	Iterations       int
	RampUp           time.Duration
	Duration         time.Duration
	ThinkTime        time.Duration
	ExtraVars        []string
	EnvFile          string
	DBPath           string
	MetricsListen    string // empty disables the metrics endpoint
	MetricsPath      string
	OutputFormat     string
	ProgressInterval time.Duration
	Logger           zerolog.Logger
	Out              io.Writer
	Progress         io.Writer // progress lines; nil disables them
}

// LoadConfig merges the plan's load section under the command line values
func LoadConfig(p *plan.Plan, path string, opts LoadOptions) *loadtest.Config {
	cfg := &loadtest.Config{
		PlanName:   p.Name,
		PlanFile:   path,
		Users:      opts.Users,
		Iterations: opts.Iterations,
		RampUp:     opts.RampUp,
		Duration:   opts.Duration,
		ThinkTime:  opts.ThinkTime,
	}

	if l := p.Load; l != nil {
		if cfg.Users == 0 {
			cfg.Users = l.Users
		}
		if cfg.Iterations == 0 {
			cfg.Iterations = l.Iterations
		}
		if cfg.RampUp == 0 {
			cfg.RampUp = l.RampUp
		}
		if cfg.Duration == 0 {
			cfg.Duration = l.Duration
		}
		if cfg.ThinkTime == 0 {
			cfg.ThinkTime = l.ThinkTime
		}
	}

	if cfg.Users == 0 {
		cfg.Users = 1
	}
	if cfg.Iterations == 0 && cfg.Duration == 0 {
		cfg.Iterations = cfg.Users
	}
	return cfg
}

// Load runs a plan with concurrent virtual users and prints the run summary
func Load(ctx context.Context, opts LoadOptions) error {
	p, path, err := loadPlan(opts.PlanPath)
	if err != nil {
		return err
	}

	cfg := LoadConfig(p, path, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	envVars, err := loadEnv(opts.EnvFile)
	if err != nil {
		return err
	}

	factory, err := buildFactory(ctx, p, opts.Logger)
	if err != nil {
		return err
	}

	var col *metrics.Collectors
	if opts.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if col, err = metrics.New(reg); err != nil {
			return err
		}

		metricsPath := opts.MetricsPath
		if metricsPath == "" {
			metricsPath = metrics.DefaultPath
		}
		srv, err := metrics.Serve(opts.MetricsListen, metricsPath, reg, opts.Logger)
		if err != nil {
			return err
		}
		defer shutdown(srv)
		fmt.Fprintf(os.Stderr, "Metrics on http://%s%s\n", srv.Addr, metricsPath)
	}

	manager, err := loadtest.NewManager(opts.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	executor, err := loadtest.NewExecutor(&loadtest.ExecutionConfig{
		Config:    cfg,
		Rounds:    p.Expand(),
		Variables: p.Variables,
		CLIVars:   ParseExtraVars(opts.ExtraVars),
		EnvVars:   envVars,
		Factory:   factory,
		Metrics:   col,
		Logger:    opts.Logger,
	}, manager)
	if err != nil {
		return err
	}

	start := time.Now()
	executor.Start(ctx)

	done := make(chan error, 1)
	go func() { done <- executor.Wait() }()

	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var runErr error
wait:
	for {
		select {
		case runErr = <-done:
			break wait
		case <-ticker.C:
			if opts.Progress != nil {
				fmt.Fprintln(opts.Progress, formatProgress(executor.GetStats(), time.Since(start)))
			}
		}
	}

	run := executor.GetRun()
	summary, err := manager.GetRoundSummary(run.ID)
	if err != nil {
		return err
	}

	output, err := formatRun(run, summary, outputFormat(opts.OutputFormat, opts.Out, ""))
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	if err := emit(output, "", opts.Out); err != nil {
		return err
	}
	return runErr
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
