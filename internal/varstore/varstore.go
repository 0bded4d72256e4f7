// Package varstore persists session variables between runs.
package varstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/studiowebux/wssampler/internal/config"
)

type fileFormat struct {
	Variables map[string]string `json:"variables"`
}

// Store handles the variables file
type Store struct {
	path      string
	variables map[string]string
}

// New creates a store for path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path, variables: make(map[string]string)}
}

// Load reads the variables file; a missing file yields an empty store
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.variables = make(map[string]string)
			return nil
		}
		return fmt.Errorf("failed to read variables file: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse variables file: %w", err)
	}
	if f.Variables == nil {
		f.Variables = make(map[string]string)
	}

	s.variables = f.Variables
	return nil
}

// Save writes the variables file
func (s *Store) Save() error {
	data, err := json.MarshalIndent(fileFormat{Variables: s.variables}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	if err := os.WriteFile(s.path, data, config.FilePermissions); err != nil {
		return fmt.Errorf("failed to write variables file: %w", err)
	}
	return nil
}

// Get gets a variable
func (s *Store) Get(name string) (string, bool) {
	value, ok := s.variables[name]
	return value, ok
}

// Set sets a variable and saves
func (s *Store) Set(name, value string) error {
	s.variables[name] = value
	return s.Save()
}

// Delete deletes a variable and saves
func (s *Store) Delete(name string) error {
	delete(s.variables, name)
	return s.Save()
}

// Merge copies vars into the store and saves once
func (s *Store) Merge(vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	for k, v := range vars {
		s.variables[k] = v
	}
	return s.Save()
}

// All returns a copy of every variable
func (s *Store) All() map[string]string {
	out := make(map[string]string, len(s.variables))
	for k, v := range s.variables {
		out[k] = v
	}
	return out
}

// Names returns the variable names in sorted order
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.variables))
	for k := range s.variables {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
