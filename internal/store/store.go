// Package store manages the models directory.
//
// Directory layout:
//
//	<models_dir>/<model>/
//	    model.yaml               # domains, capabilities, scenarios
//	    results/                 # latest saved run (replaced wholesale)
//	        run.yaml             # run manifest
//	        model.yaml           # model as simulated
//	        samples.csv
//	        scenario_summary.csv
//	        domain_summary.csv
//	        iteration_summary.csv
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"fairsim/internal/model"
)

var (
	ErrModelNotFound   = errors.New("model not found")
	ErrResultsNotFound = errors.New("no saved results")
	ErrModelExists     = errors.New("model already exists")
)

const (
	modelFile  = "model.yaml"
	resultsDir = "results"
)

// Store is a models directory.
type Store struct {
	Dir string
}

// New returns a store rooted at dir. The directory need not exist until a
// model is created.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// DefaultDir returns ~/.fairsim/models.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".fairsim", "models"), nil
}

// modelDir validates name and returns its directory.
func (s *Store) modelDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid model name %q", name)
	}
	return filepath.Join(s.Dir, name), nil
}

// List returns the names of every directory holding a model.yaml, sorted.
// A missing models directory lists as empty.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Dir, e.Name(), modelFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Init creates <name>/model.yaml from m, or from model.Starter when m is nil.
// Errors if the model already exists.
func (s *Store) Init(name string, m *model.Model) error {
	dir, err := s.modelDir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, modelFile)); err == nil {
		return fmt.Errorf("%w: %q at %s", ErrModelExists, name, dir)
	}
	if m == nil {
		m = model.Starter()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	return writeYAML(filepath.Join(dir, modelFile), m)
}

// Load reads and validates a model. An unknown name wraps ErrModelNotFound;
// an unparsable or inconsistent definition wraps model.ErrModelInvalid.
func (s *Store) Load(name string) (*model.Model, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	m, err := readModel(filepath.Join(dir, modelFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
		}
		return nil, fmt.Errorf("load model %q: %w", name, err)
	}
	m.Name = name
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("load model %q: %w", name, err)
	}
	return m, nil
}

// Remove deletes a model and its saved results.
func (s *Store) Remove(name string) error {
	dir, err := s.modelDir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, modelFile)); err != nil {
		return fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove model: %w", err)
	}
	return nil
}

func readModel(path string) (*model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m model.Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &model.InvalidError{Table: "model", Row: filepath.Base(path), Reason: err.Error()}
	}
	return &m, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
