// Package parser resolves {{variables}} and $(shell) substitutions in rounds.
package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/studiowebux/wssampler/internal/types"
)

var (
	// {{name}} or {{env.NAME}}
	varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

	// $(command)
	shellPattern = regexp.MustCompile(`\$\(([^)]+)\)`)
)

// ShellTimeout bounds each $(command) substitution
const ShellTimeout = 5 * time.Second

const envPrefix = "env."

// VariableResolver substitutes variables into rounds. Lookups go through
// cli vars, then session vars, then plan vars; {{env.NAME}} reads envVars.
// A resolver belongs to one sampler and is not safe for concurrent use.
type VariableResolver struct {
	cliVars     map[string]string
	sessionVars map[string]string
	planVars    map[string]string
	envVars     map[string]string

	unresolved  []string
	seen        map[string]bool
	shellErrors []string
}

// NewVariableResolver creates a resolver. Any of the maps can be nil; they
// are copied.
func NewVariableResolver(planVars, sessionVars, cliVars, envVars map[string]string) *VariableResolver {
	return &VariableResolver{
		cliVars:     copyVars(cliVars),
		sessionVars: copyVars(sessionVars),
		planVars:    copyVars(planVars),
		envVars:     copyVars(envVars),
		seen:        make(map[string]bool),
	}
}

func copyVars(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// lookup returns the value of a placeholder name
func (vr *VariableResolver) lookup(name string) (string, bool) {
	if key, ok := strings.CutPrefix(name, envPrefix); ok {
		v, found := vr.envVars[key]
		return v, found
	}
	for _, tier := range []map[string]string{vr.cliVars, vr.sessionVars, vr.planVars} {
		if v, ok := tier[name]; ok {
			return v, true
		}
	}
	return "", false
}

func (vr *VariableResolver) markUnresolved(name string) {
	if !vr.seen[name] {
		vr.seen[name] = true
		vr.unresolved = append(vr.unresolved, name)
	}
}

// GetUnresolvedVariables returns the names that could not be resolved since
// the last ResetDiagnostics, in first-seen order
func (vr *VariableResolver) GetUnresolvedVariables() []string {
	return append([]string{}, vr.unresolved...)
}

// GetShellErrors returns the shell command errors since the last ResetDiagnostics
func (vr *VariableResolver) GetShellErrors() []string {
	return append([]string{}, vr.shellErrors...)
}

// ResetDiagnostics clears the unresolved and shell error lists
func (vr *VariableResolver) ResetDiagnostics() {
	vr.unresolved = vr.unresolved[:0]
	vr.shellErrors = vr.shellErrors[:0]
	clear(vr.seen)
}

// ExtractVariableNames returns the unique placeholder names in input,
// without the braces
func ExtractVariableNames(input string) []string {
	var names []string
	addUnique(&names, make(map[string]bool), input)
	return names
}

func addUnique(names *[]string, seen map[string]bool, input string) {
	for _, match := range varPattern.FindAllStringSubmatch(input, -1) {
		name := strings.TrimSpace(match[1])
		if !seen[name] {
			seen[name] = true
			*names = append(*names, name)
		}
	}
}

// ExtractRoundVariables returns the unique placeholder names of a round's
// URL, headers (by header name), message and both patterns
func ExtractRoundVariables(r *types.Round) []string {
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var names []string
	seen := make(map[string]bool)
	addUnique(&names, seen, r.URL)
	for _, k := range keys {
		addUnique(&names, seen, r.Headers[k])
	}
	for _, field := range []string{r.Message, r.ResponsePattern, r.DisconnectPattern} {
		addUnique(&names, seen, field)
	}
	return names
}

// LoadEnvFile reads KEY=value lines from a .env file. Blank lines, comments
// and lines without '=' are skipped; an "export " prefix and matching quotes
// around the value are removed.
func LoadEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	envVars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		envVars[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading env file: %w", err)
	}
	return envVars, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// LoadSystemEnv returns the process environment as a map
func LoadSystemEnv() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			envVars[key] = value
		}
	}
	return envVars
}

// ResolveRound resolves every templated field of a round.
// Timeouts, flags and extraction rules are copied as is.
func (vr *VariableResolver) ResolveRound(r types.Round) (types.Round, error) {
	resolved := r

	url, err := vr.Resolve(r.URL)
	if err != nil {
		return types.Round{}, fmt.Errorf("failed to resolve URL: %w", err)
	}
	resolved.URL = url

	if r.Headers != nil {
		resolved.Headers = make(map[string]string, len(r.Headers))
		for key, value := range r.Headers {
			v, err := vr.Resolve(value)
			if err != nil {
				return types.Round{}, fmt.Errorf("failed to resolve header %s: %w", key, err)
			}
			resolved.Headers[key] = v
		}
	}

	fields := []struct {
		name string
		dst  *string
	}{
		{"message", &resolved.Message},
		{"response pattern", &resolved.ResponsePattern},
		{"disconnect pattern", &resolved.DisconnectPattern},
		{"message backlog", &resolved.MessageBacklog},
	}
	for _, f := range fields {
		if *f.dst == "" {
			continue
		}
		v, err := vr.Resolve(*f.dst)
		if err != nil {
			return types.Round{}, fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
		*f.dst = v
	}

	return resolved, nil
}

// Resolve substitutes shell commands, then variables, then shell commands
// that came from variable values
func (vr *VariableResolver) Resolve(input string) (string, error) {
	result, err := vr.runShell(input)
	if err != nil {
		return "", err
	}

	result = varPattern.ReplaceAllStringFunc(result, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := vr.lookup(name); ok {
			return v
		}
		vr.markUnresolved(name)
		return match
	})

	return vr.runShell(result)
}

// runShell replaces each $(command) with its trimmed stdout. A failing
// command is left in place and reported.
func (vr *VariableResolver) runShell(input string) (string, error) {
	if !strings.Contains(input, "$(") {
		return input, nil
	}

	var lastErr error
	result := shellPattern.ReplaceAllStringFunc(input, func(match string) string {
		command := strings.TrimSpace(match[2 : len(match)-1])
		out, err := runCommand(command)
		if err != nil {
			vr.shellErrors = append(vr.shellErrors, fmt.Sprintf("$(%s): %v", command, err))
			lastErr = fmt.Errorf("shell command failed: %w", err)
			return match
		}
		return out
	})
	return result, lastErr
}

func runCommand(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ShellTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// AddSessionVariable adds or updates a session variable
func (vr *VariableResolver) AddSessionVariable(name, value string) {
	vr.sessionVars[name] = value
}

// GetSessionVariables returns a copy of the session variables
func (vr *VariableResolver) GetSessionVariables() map[string]string {
	return copyVars(vr.sessionVars)
}
