// Package plan loads sampler plans from YAML or JSON(C) files.
package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/wssampler/internal/auth"
	"github.com/studiowebux/wssampler/internal/config"
	"github.com/studiowebux/wssampler/internal/extract"
	"github.com/studiowebux/wssampler/internal/types"
)

var (
	// ErrNoRounds is returned for a plan without rounds
	ErrNoRounds = errors.New("plan has no rounds")

	// ErrNoURL is returned when a round has no URL and the plan has no default
	ErrNoURL = errors.New("no url")
)

// Plan is a sequence of rounds with shared connection defaults
type Plan struct {
	Name              string            `json:"name" yaml:"name"`
	URL               string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers           map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Subprotocols      []string          `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"`
	TLS               *types.TLSConfig  `json:"tls,omitempty" yaml:"tls,omitempty"`
	Auth              *types.AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
	Streaming         bool              `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	ConnectTimeout    time.Duration     `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	ResponseTimeout   time.Duration     `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty"`
	ResponsePattern   string            `json:"responsePattern,omitempty" yaml:"responsePattern,omitempty"`
	DisconnectPattern string            `json:"disconnectPattern,omitempty" yaml:"disconnectPattern,omitempty"`
	MessageBacklog    string            `json:"messageBacklog,omitempty" yaml:"messageBacklog,omitempty"`
	Variables         map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Rounds            []RoundSpec       `json:"rounds" yaml:"rounds"`
	Load              *LoadSpec         `json:"load,omitempty" yaml:"load,omitempty"`
}

// RoundSpec is a round as written in a plan; empty fields inherit from the plan
type RoundSpec struct {
	Name              string            `json:"name,omitempty" yaml:"name,omitempty"`
	URL               string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers           map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Subprotocols      []string          `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"`
	Message           string            `json:"message,omitempty" yaml:"message,omitempty"`
	ResponsePattern   string            `json:"responsePattern,omitempty" yaml:"responsePattern,omitempty"`
	DisconnectPattern string            `json:"disconnectPattern,omitempty" yaml:"disconnectPattern,omitempty"`
	MessageBacklog    string            `json:"messageBacklog,omitempty" yaml:"messageBacklog,omitempty"`
	Streaming         *bool             `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	ConnectTimeout    time.Duration     `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	ResponseTimeout   time.Duration     `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty"`
	Extract           map[string]string `json:"extract,omitempty" yaml:"extract,omitempty"`
	Repeat            int               `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// LoadSpec holds load-run defaults; CLI flags override them
type LoadSpec struct {
	Users      int           `json:"users,omitempty" yaml:"users,omitempty"`
	Iterations int           `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	RampUp     time.Duration `json:"rampUp,omitempty" yaml:"rampUp,omitempty"`
	Duration   time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	ThinkTime  time.Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
}

// Load reads and validates a plan file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	p, err := Parse(data, ext)
	if err != nil {
		return nil, err
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes plan data. ext selects the format (.yaml, .yml, .json, .jsonc).
// JSON is decoded through the YAML decoder after comments are stripped, so
// durations are written the same way ("5s") in both formats.
func Parse(data []byte, ext string) (*Plan, error) {
	switch ext {
	case ".yaml", ".yml":
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	default:
		return nil, fmt.Errorf("unsupported plan file format: %s (use .yaml, .yml, .json or .jsonc)", ext)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return &p, nil
}

// Validate checks the plan for errors that would make every run fail
func (p *Plan) Validate() error {
	if len(p.Rounds) == 0 {
		return ErrNoRounds
	}
	if p.ConnectTimeout < 0 || p.ResponseTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if err := auth.Validate(p.Auth); err != nil {
		return err
	}

	for i, r := range p.Rounds {
		label := roundLabel(i, r)
		if r.URL == "" && p.URL == "" {
			return fmt.Errorf("%s: %w (set url on the round or the plan)", label, ErrNoURL)
		}
		if r.ConnectTimeout < 0 || r.ResponseTimeout < 0 {
			return fmt.Errorf("%s: timeouts must not be negative", label)
		}
		if r.Repeat < 0 {
			return fmt.Errorf("%s: repeat must not be negative", label)
		}
		if err := extract.Validate(r.Extract); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
	}

	if p.Load != nil {
		if p.Load.Users < 0 || p.Load.Iterations < 0 {
			return fmt.Errorf("load: users and iterations must not be negative")
		}
		if p.Load.RampUp < 0 || p.Load.Duration < 0 || p.Load.ThinkTime < 0 {
			return fmt.Errorf("load: durations must not be negative")
		}
	}
	return nil
}

func roundLabel(i int, r RoundSpec) string {
	if r.Name != "" {
		return fmt.Sprintf("round %d (%s)", i+1, r.Name)
	}
	return fmt.Sprintf("round %d", i+1)
}

// Expand expands the plan into concrete rounds with defaults applied.
// Variables are left unresolved.
func (p *Plan) Expand() []types.Round {
	connectTimeout := p.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = config.DefaultConnectTimeout
	}
	responseTimeout := p.ResponseTimeout
	if responseTimeout == 0 {
		responseTimeout = config.DefaultResponseTimeout
	}

	var rounds []types.Round
	for i, spec := range p.Rounds {
		r := types.Round{
			Name:              spec.Name,
			URL:               firstNonEmpty(spec.URL, p.URL),
			Headers:           mergeHeaders(p.Headers, spec.Headers),
			Subprotocols:      spec.Subprotocols,
			Message:           spec.Message,
			ResponsePattern:   firstNonEmpty(spec.ResponsePattern, p.ResponsePattern),
			DisconnectPattern: firstNonEmpty(spec.DisconnectPattern, p.DisconnectPattern),
			MessageBacklog:    firstNonEmpty(spec.MessageBacklog, p.MessageBacklog),
			Streaming:         p.Streaming,
			ConnectTimeout:    connectTimeout,
			ResponseTimeout:   responseTimeout,
			Extract:           spec.Extract,
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("round-%d", i+1)
		}
		if len(r.Subprotocols) == 0 {
			r.Subprotocols = p.Subprotocols
		}
		if spec.Streaming != nil {
			r.Streaming = *spec.Streaming
		}
		if spec.ConnectTimeout > 0 {
			r.ConnectTimeout = spec.ConnectTimeout
		}
		if spec.ResponseTimeout > 0 {
			r.ResponseTimeout = spec.ResponseTimeout
		}

		repeat := spec.Repeat
		if repeat == 0 {
			repeat = 1
		}
		for n := 0; n < repeat; n++ {
			rounds = append(rounds, r)
		}
	}
	return rounds
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Save writes the plan in the format implied by path's extension
func Save(p *Plan, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported plan file format for writing: %s (use .yaml or .yml)", ext)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.WriteFile(path, data, config.FilePermissions); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}
