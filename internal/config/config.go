// Package config loads fairsim settings from <fairsim home>/settings.yaml
// with environment overrides.
//
// The fairsim home is $FAIRSIM_HOME, or ~/.fairsim when unset. A .env file
// in the working directory is loaded first, so any variable below may be set
// there instead of in the environment.
//
//	FAIRSIM_MODELS_DIR  models_dir
//	FAIRSIM_ITERATIONS  iterations
//	FAIRSIM_SEED        seed
//	FAIRSIM_WORKERS     workers
//	FAIRSIM_LOG_MODE    log_mode
//	FAIRSIM_ADDR        addr
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fairsim/internal/classify"
	"fairsim/internal/sampler"
)

// Settings holds fairsim configuration.
type Settings struct {
	ModelsDir        string                   `yaml:"models_dir"`
	Iterations       int                      `yaml:"iterations"`
	Seed             uint64                   `yaml:"seed"`
	Workers          int                      `yaml:"workers"`
	ResistancePolicy sampler.ResistancePolicy `yaml:"resistance_policy"`
	LossPolicy       sampler.LossPolicy       `yaml:"loss_policy"`
	RiskTolerances   classify.Tolerances      `yaml:"risk_tolerances"`
	LogMode          string                   `yaml:"log_mode"`
	Addr             string                   `yaml:"addr"`
}

const DefaultIterations = 1000

// Home returns $FAIRSIM_HOME, or ~/.fairsim.
func Home() (string, error) {
	if h := os.Getenv("FAIRSIM_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".fairsim"), nil
}

// Defaults returns the settings used when nothing is configured, rooted at
// the given fairsim home.
func Defaults(home string) *Settings {
	return &Settings{
		ModelsDir:        filepath.Join(home, "models"),
		Iterations:       DefaultIterations,
		ResistancePolicy: sampler.DefaultPolicy.Resistance,
		LossPolicy:       sampler.DefaultPolicy.Loss,
		RiskTolerances:   classify.DefaultTolerances,
		LogMode:          "production",
		Addr:             ":8080",
	}
}

// Load reads settings.yaml from the fairsim home, applies environment
// overrides and validates the result. A missing file yields defaults.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	home, err := Home()
	if err != nil {
		return nil, err
	}
	return LoadFrom(home)
}

// LoadFrom is Load with an explicit fairsim home and no .env handling.
func LoadFrom(home string) (*Settings, error) {
	s := Defaults(home)

	path := filepath.Join(home, "settings.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", path, err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

func (s *Settings) applyEnv() error {
	if v := os.Getenv("FAIRSIM_MODELS_DIR"); v != "" {
		s.ModelsDir = v
	}
	if v := os.Getenv("FAIRSIM_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FAIRSIM_ITERATIONS: %w", err)
		}
		s.Iterations = n
	}
	if v := os.Getenv("FAIRSIM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FAIRSIM_SEED: %w", err)
		}
		s.Seed = n
	}
	if v := os.Getenv("FAIRSIM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FAIRSIM_WORKERS: %w", err)
		}
		s.Workers = n
	}
	if v := os.Getenv("FAIRSIM_LOG_MODE"); v != "" {
		s.LogMode = v
	}
	if v := os.Getenv("FAIRSIM_ADDR"); v != "" {
		s.Addr = v
	}
	return nil
}

// Policy returns the sampling policy the settings select.
func (s *Settings) Policy() sampler.Policy {
	return sampler.Policy{Resistance: s.ResistancePolicy, Loss: s.LossPolicy}
}

// Validate rejects settings no run could use.
func (s *Settings) Validate() error {
	if s.ModelsDir == "" {
		return fmt.Errorf("models_dir is empty")
	}
	if s.Iterations < 1 {
		return fmt.Errorf("iterations must be >= 1 (got %d)", s.Iterations)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be >= 0 (got %d)", s.Workers)
	}
	if err := s.Policy().Validate(); err != nil {
		return err
	}
	if err := s.RiskTolerances.Validate(); err != nil {
		return err
	}
	switch s.LogMode {
	case "production", "development":
	default:
		return fmt.Errorf("log_mode must be production or development (got %q)", s.LogMode)
	}
	return nil
}
