// Package cli implements the wssampler commands behind the cobra layer.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/studiowebux/wssampler/internal/auth"
	"github.com/studiowebux/wssampler/internal/config"
	"github.com/studiowebux/wssampler/internal/parser"
	"github.com/studiowebux/wssampler/internal/plan"
	"github.com/studiowebux/wssampler/internal/sampler"
	"github.com/studiowebux/wssampler/internal/transport"
	"github.com/studiowebux/wssampler/internal/types"
	"github.com/studiowebux/wssampler/internal/varstore"
)

// ErrRoundsFailed is returned by Run when at least one round did not succeed
var ErrRoundsFailed = errors.New("one or more rounds failed")

// RunOptions contains options for running a plan once
type RunOptions struct {
	PlanPath      string
	OutputFormat  string   // json, yaml, text; empty picks text on a terminal
	SavePath      string   // write the report here instead of Out
	ExtraVars     []string // key=value pairs from -e flag
	EnvFile       string   // path to .env file
	VariablesFile string   // persisted session variables
	SaveVariables bool     // store extracted variables for later runs
	NoPrompt      bool     // never ask for missing variables
	Logger        zerolog.Logger
	In            io.Reader
	Out           io.Writer
}

// Run executes every round of a plan on one sampler and prints the results
func Run(ctx context.Context, opts RunOptions) error {
	p, path, err := loadPlan(opts.PlanPath)
	if err != nil {
		return err
	}

	cliVars := ParseExtraVars(opts.ExtraVars)
	envVars, err := loadEnv(opts.EnvFile)
	if err != nil {
		return err
	}

	store := varstore.New(opts.VariablesFile)
	if opts.VariablesFile != "" {
		if err := store.Load(); err != nil {
			return err
		}
	}
	sessionVars := store.All()

	rounds := p.Expand()

	// Prompt for variables nothing provides
	if missing := missingVariables(rounds, envVars, p.Variables, sessionVars, cliVars); len(missing) > 0 && !opts.NoPrompt {
		in := opts.In
		if in == nil {
			in = os.Stdin
		}
		if isInteractive(in) {
			values, err := promptMissing(missing, in, os.Stderr)
			if err != nil {
				return err
			}
			for k, v := range values {
				cliVars[k] = v
			}
		}
	}

	factory, err := buildFactory(ctx, p, opts.Logger)
	if err != nil {
		return err
	}

	s := sampler.New(sampler.Options{
		Factory:  factory,
		Logger:   opts.Logger,
		Resolver: parser.NewVariableResolver(p.Variables, sessionVars, cliVars, envVars),
	})
	defer s.Close()

	opts.Logger.Debug().Str("plan", path).Int("rounds", len(rounds)).Msg("running plan")

	results := make([]*types.SampleResult, 0, len(rounds))
	failed := false
	for _, r := range rounds {
		res := s.RunRound(ctx, r)
		results = append(results, res)
		if !res.Success {
			failed = true
		}
		if ctx.Err() != nil {
			break
		}
	}

	if opts.SaveVariables && opts.VariablesFile != "" {
		extracted := make(map[string]string)
		for _, res := range results {
			for k, v := range res.Extracted {
				extracted[k] = v
			}
		}
		if err := store.Merge(extracted); err != nil {
			return fmt.Errorf("failed to save variables: %w", err)
		}
	}

	format := outputFormat(opts.OutputFormat, opts.Out, opts.SavePath)
	output, err := formatResults(p.Name, results, format)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if err := emit(output, opts.SavePath, opts.Out); err != nil {
		return err
	}

	if failed {
		return ErrRoundsFailed
	}
	return nil
}

// loadPlan resolves a plan name to a file and loads it
func loadPlan(name string) (*plan.Plan, string, error) {
	path, err := config.ResolvePlanPath(name)
	if err != nil {
		return nil, "", err
	}
	p, err := plan.Load(path)
	if err != nil {
		return nil, "", err
	}
	return p, path, nil
}

// ParseExtraVars parses key=value pairs; a bare key sets an empty value
func ParseExtraVars(pairs []string) map[string]string {
	vars := make(map[string]string)
	for _, ev := range pairs {
		parts := strings.SplitN(ev, "=", 2)
		if len(parts) == 2 {
			vars[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			vars[parts[0]] = ""
		}
	}
	return vars
}

// loadEnv returns the system environment, overridden by envFile when set
func loadEnv(envFile string) (map[string]string, error) {
	envVars := parser.LoadSystemEnv()
	if envFile == "" {
		return envVars, nil
	}

	fileEnvVars, err := parser.LoadEnvFile(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	for k, v := range fileEnvVars {
		envVars[k] = v
	}
	return envVars, nil
}

// buildFactory returns a WebSocket client factory with the plan's TLS and auth settings
func buildFactory(ctx context.Context, p *plan.Plan, logger zerolog.Logger) (transport.Factory, error) {
	ts, err := auth.TokenSource(ctx, p.Auth)
	if err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	opts := transport.DefaultOptions()
	opts.TLS = p.TLS
	opts.TokenSource = ts
	opts.Logger = logger
	return transport.NewWebSocketFactory(opts), nil
}

// missingVariables lists variables the rounds use that no source provides.
// Names filled by an extract rule of any round are not missing.
func missingVariables(rounds []types.Round, env map[string]string, provided ...map[string]string) []string {
	known := make(map[string]bool)
	for _, src := range provided {
		for k := range src {
			known[k] = true
		}
	}
	for _, r := range rounds {
		for k := range r.Extract {
			known[k] = true
		}
	}

	seen := make(map[string]bool)
	var missing []string
	for i := range rounds {
		for _, name := range parser.ExtractRoundVariables(&rounds[i]) {
			if known[name] || seen[name] {
				continue
			}
			if envKey, ok := strings.CutPrefix(name, "env."); ok {
				if _, set := env[envKey]; set {
					continue
				}
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	return missing
}

// emit writes output to savePath, or to out when savePath is empty
func emit(output, savePath string, out io.Writer) error {
	if savePath != "" {
		if err := os.WriteFile(savePath, []byte(output), config.FilePermissions); err != nil {
			return fmt.Errorf("failed to save output: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Output saved to %s\n", savePath)
		return nil
	}
	if out == nil {
		out = os.Stdout
	}
	_, err := io.WriteString(out, output)
	return err
}
