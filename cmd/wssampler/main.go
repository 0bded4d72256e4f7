package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/studiowebux/wssampler/internal/cli"
	"github.com/studiowebux/wssampler/internal/config"
	"github.com/studiowebux/wssampler/internal/logging"
	"github.com/studiowebux/wssampler/internal/metrics"
)

var (
	version = "0.1.0"
)

// Global flags
var (
	flagLogLevel   string
	flagLogJSON    bool
	flagProfileDir string
	flagOutput     string
	flagDB         string
)

// Flags for run/load
var (
	flagExtraVars []string
	flagEnvFile   string
	flagSave      string
	flagSaveVars  bool
	flagNoPrompt  bool
)

// Flags for load
var (
	flagUsers         int
	flagIterations    int
	flagRampUp        string
	flagDuration      string
	flagThinkTime     string
	flagMetricsListen string
	flagMetricsPath   string
)

var (
	flagLimit    int
	flagMockPort int
)

var logger = zerolog.Nop()

// profStop stops the CPU profile started by --cpuprofile
var profStop interface{ Stop() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if profStop != nil {
		profStop.Stop()
	}

	if err != nil {
		if !errors.Is(err, cli.ErrRoundsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wssampler",
	Short: "wssampler - WebSocket request/response sampler",
	Long: `wssampler sends messages over WebSocket connections and waits for a reply
matching a pattern, reporting how each round went.

Plans are YAML or JSON(C) files. A plan name without an extension is looked up
with .yaml, .yml, .json and .jsonc, first in the current directory and then in
the plans directory.

Examples:
  wssampler run chat                     # Run every round of chat.yaml once
  wssampler run chat -e user=alice       # Provide a variable
  wssampler load chat --users 50 --iterations 1000 --ramp-up 10s
  wssampler load chat --duration 1m --metrics-listen 127.0.0.1:9000
  wssampler runs                         # List recorded load runs
  wssampler mock mock.yaml --port 8080   # Serve a scripted WebSocket endpoint`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.ValidateFormat(flagOutput); err != nil {
			return err
		}

		var err error
		logger, err = logging.New(logging.Options{Level: flagLogLevel, JSON: flagLogJSON})
		if err != nil {
			return err
		}

		if flagProfileDir != "" {
			profStop = profile.Start(profile.CPUProfile, profile.ProfilePath(flagProfileDir), profile.NoShutdownHook, profile.Quiet)
		}

		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Run every round of a plan once",
	Long: `Run every round of a plan once on a single connection sampler.

The exit status is 1 when any round did not succeed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Run(cmd.Context(), cli.RunOptions{
			PlanPath:      args[0],
			OutputFormat:  flagOutput,
			SavePath:      flagSave,
			ExtraVars:     flagExtraVars,
			EnvFile:       flagEnvFile,
			VariablesFile: config.VariablesFile,
			SaveVariables: flagSaveVars,
			NoPrompt:      flagNoPrompt,
			Logger:        logger,
			In:            os.Stdin,
			Out:           os.Stdout,
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <plan>",
	Short: "Run a plan with concurrent virtual users",
	Long: `Run a plan with concurrent virtual users and record every sample.

Each user owns one sampler, so streaming rounds keep their connection from one
iteration to the next. Values not given on the command line come from the
plan's load section. Interrupt to stop early; the run is recorded as cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rampUp, err := parseDuration("ramp-up", flagRampUp)
		if err != nil {
			return err
		}
		duration, err := parseDuration("duration", flagDuration)
		if err != nil {
			return err
		}
		thinkTime, err := parseDuration("think-time", flagThinkTime)
		if err != nil {
			return err
		}
		if flagMetricsListen != "" {
			if err := metrics.ValidateListenAddress(flagMetricsListen); err != nil {
				return err
			}
			if err := metrics.ValidatePath(flagMetricsPath); err != nil {
				return err
			}
		}

		return cli.Load(cmd.Context(), cli.LoadOptions{
			PlanPath:      args[0],
			Users:         flagUsers,
			Iterations:    flagIterations,
			RampUp:        rampUp,
			Duration:      duration,
			ThinkTime:     thinkTime,
			ExtraVars:     flagExtraVars,
			EnvFile:       flagEnvFile,
			DBPath:        dbPath(),
			MetricsListen: flagMetricsListen,
			MetricsPath:   flagMetricsPath,
			OutputFormat:  flagOutput,
			Logger:        logger,
			Out:           os.Stdout,
			Progress:      os.Stderr,
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded load runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListRuns(runsOptions(), flagLimit)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a load run with its per-round summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return cli.ShowRun(runsOptions(), id)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a load run and its samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return cli.DeleteRun(runsOptions(), id)
	},
}

var mockCmd = &cobra.Command{
	Use:   "mock <config>",
	Short: "Serve a scripted mock WebSocket endpoint",
	Long: `Serve a mock WebSocket endpoint whose replies are scripted by rules in a
YAML or JSON(C) file. Exchanges are printed as they happen.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Mock(cmd.Context(), cli.MockOptions{
			ConfigPath: args[0],
			Port:       flagMockPort,
			Logger:     logger,
			Out:        os.Stdout,
		})
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug/info/warn/error/off)")
	pf.BoolVar(&flagLogJSON, "log-json", false, "Write logs as JSON lines")
	pf.StringVar(&flagProfileDir, "cpuprofile", "", "Write a CPU profile to this directory")
	pf.StringVarP(&flagOutput, "output", "o", "", "Output format (text/json/yaml)")

	addVariableFlags(runCmd.Flags())
	runCmd.Flags().StringVarP(&flagSave, "save", "s", "", "Save the report to file")
	runCmd.Flags().BoolVar(&flagSaveVars, "save-vars", false, "Keep extracted variables for later runs")
	runCmd.Flags().BoolVar(&flagNoPrompt, "no-prompt", false, "Never prompt for missing variables")

	addVariableFlags(loadCmd.Flags())
	addDBFlag(loadCmd.Flags())
	lf := loadCmd.Flags()
	lf.IntVarP(&flagUsers, "users", "u", 0, "Concurrent virtual users")
	lf.IntVarP(&flagIterations, "iterations", "n", 0, "Total plan passes shared by all users")
	lf.StringVar(&flagRampUp, "ramp-up", "", "Spread user start times over this window (e.g. 10s)")
	lf.StringVarP(&flagDuration, "duration", "d", "", "Stop after this long (e.g. 1m)")
	lf.StringVar(&flagThinkTime, "think-time", "", "Pause after each round (e.g. 100ms)")
	lf.StringVar(&flagMetricsListen, "metrics-listen", "", "Serve Prometheus metrics on host:port (e.g. "+metrics.DefaultListen+")")
	lf.StringVar(&flagMetricsPath, "metrics-path", metrics.DefaultPath, "Metrics endpoint path")

	addDBFlag(runsCmd.PersistentFlags())
	runsCmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum number of runs to list (0 for all)")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	mockCmd.Flags().IntVarP(&flagMockPort, "port", "p", 0, fmt.Sprintf("Port to listen on (default: config port or %d)", cli.DefaultMockPort))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(mockCmd)
}

func addVariableFlags(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&flagExtraVars, "extra-vars", "e", []string{}, "Set variable (key=value), can be repeated")
	fs.StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")
}

func addDBFlag(fs *pflag.FlagSet) {
	fs.StringVar(&flagDB, "db", "", "Run database (default: $"+config.HomeEnv+"/wssampler.db)")
}

func dbPath() string {
	if flagDB != "" {
		return flagDB
	}
	return config.DatabasePath
}

func runsOptions() cli.RunsOptions {
	return cli.RunsOptions{DBPath: dbPath(), OutputFormat: flagOutput, Out: os.Stdout}
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return d, nil
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}
