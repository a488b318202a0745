// Package config handles configuration management for fseek.
//
// Provides functionality for:
// - Loading configuration from YAML files
// - Applying defaults
// - Validating the search and interruption settings
package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete fseek configuration structure.
type AppConfig struct {
	// Search Search run parameters
	Search SearchConfig `yaml:"search"`
	// Interrupt Interruption harness parameters
	Interrupt InterruptConfig `yaml:"interrupt"`
}

// SearchConfig holds the parameters of one search run.
type SearchConfig struct {
	// Number of workers (> 0)
	Workers int `yaml:"workers"`
	// Records read by a worker in one cycle (> 0)
	RecordsPerChunk int `yaml:"recordsPerChunk"`
	// Width of one record in bytes, terminator included
	RecordSize int `yaml:"recordSize"`
	// Substring to look for (case-sensitive)
	Query string `yaml:"query"`
	// Path of the record file
	Source string `yaml:"source"`
	// "deferred" or "immediate"
	CancelMode string `yaml:"cancelMode"`
	// "joined" or "detached"
	Lifetime string `yaml:"lifetime"`
	// Cap on bytes of scan buffers across all workers, 0 for no cap
	MaxBufferBytes int64 `yaml:"maxBufferBytes"`
	// Controls logging verbosity
	LogLevel logrus.Level `yaml:"logLevel"`
}

// InterruptConfig selects an interruption to inject into a run.
type InterruptConfig struct {
	// Mode: none, process, process-blocked, process-handler, worker,
	// worker-handler or worker-fault
	Mode string `yaml:"mode"`
	// Signal name: sigusr1, sigterm, sigkill or sigstop
	Signal string `yaml:"signal"`
	// Target worker index for worker modes
	Target int `yaml:"target"`
}

// Default returns a configuration with every optional field filled in.
func Default() AppConfig {
	return AppConfig{
		Search: SearchConfig{
			RecordsPerChunk: 1,
			RecordSize:      DefaultRecordSize,
			MaxBufferBytes:  DefaultMaxBufferBytes,
			CancelMode:      CancelDeferred,
			Lifetime:        LifetimeJoined,
			LogLevel:        logrus.InfoLevel,
		},
		Interrupt: InterruptConfig{
			Mode: InterruptNone,
		},
	}
}

// LoadConfig loads configuration from a YAML file over the values already in cfg.
//
// Parameters:
//   - path: Path to configuration file (if empty, searches for .fseek.yaml in current dir then user home)
//   - cfg: Pointer to AppConfig to populate
//
// Returns:
//   - found: whether a file was read
//   - error: Any error encountered while loading
//
// A missing file is only an error when path was given explicitly.
func LoadConfig(path string, cfg *AppConfig) (bool, error) {
	foundPath, err := findConfigFile(path)
	if err != nil {
		return false, err
	}

	if foundPath == "" {
		return false, nil
	}

	absPath, err := filepath.Abs(foundPath)
	if err != nil {
		return false, fseekerr.New(fseekerr.CodeConfigError, "invalid config path", fseekerr.WithError(err))
	}

	file, err := os.Open(filepath.Clean(absPath))
	if err != nil {
		return false, fseekerr.New(fseekerr.CodeConfigError, "failed to open config", fseekerr.WithError(err))
	}

	defer func() {
		if err := file.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close config file")
		}
	}()

	data, err := io.ReadAll(io.LimitReader(file, MaxConfigSize))
	if err != nil {
		return false, fseekerr.New(fseekerr.CodeConfigError, "failed to read config", fseekerr.WithError(err))
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fseekerr.New(fseekerr.CodeConfigError, "invalid config format", fseekerr.WithError(err))
	}

	return true, nil
}

// findConfigFile locates the configuration file using the following precedence:
// 1. If path is provided, uses that
// 2. Looks for .fseek.yaml in current directory
// 3. Looks for ~/.fseek.yaml
// Returns "" when no implicit file exists.
func findConfigFile(path string) (string, error) {
	if path != "" {
		return path, nil
	}

	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil //nolint:nilerr
	}

	globalPath := filepath.Join(home, ConfigFileName)

	_, err = os.Stat(globalPath)

	switch {
	case err == nil:
		return globalPath, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	default:
		return "", fseekerr.New(fseekerr.CodeConfigError, "failed to stat config file", fseekerr.WithError(err))
	}
}

// ValidateSearchConfig validates search configuration.
//
// Checks:
// - Workers and RecordsPerChunk are positive
// - RecordSize fits an id, a separator and a terminator
// - Query and Source are set
// - CancelMode and Lifetime are known
func ValidateSearchConfig(cfg SearchConfig) error {
	if cfg.Workers <= 0 {
		return fseekerr.New(fseekerr.CodeConfigError, "incorrect number of workers, it should be > 0")
	}

	if cfg.RecordsPerChunk <= 0 {
		return fseekerr.New(fseekerr.CodeConfigError, "incorrect number of records, it should be > 0")
	}

	if cfg.RecordSize < MinRecordSize {
		return fseekerr.New(fseekerr.CodeConfigError, "recordSize is too small",
			fseekerr.WithDetails(fseekerr.Details{"recordSize": cfg.RecordSize, "min": MinRecordSize}))
	}

	if cfg.Query == "" {
		return fseekerr.New(fseekerr.CodeConfigError, "query is required")
	}

	if cfg.Source == "" {
		return fseekerr.New(fseekerr.CodeConfigError, "source is required")
	}

	switch cfg.CancelMode {
	case CancelDeferred, CancelImmediate:
	default:
		return fseekerr.New(fseekerr.CodeConfigError,
			"invalid cancelMode: "+cfg.CancelMode+" (must be 'deferred' or 'immediate')")
	}

	switch cfg.Lifetime {
	case LifetimeJoined, LifetimeDetached:
	default:
		return fseekerr.New(fseekerr.CodeConfigError,
			"invalid lifetime: "+cfg.Lifetime+" (must be 'joined' or 'detached')")
	}

	if cfg.MaxBufferBytes < 0 {
		return fseekerr.New(fseekerr.CodeConfigError, "maxBufferBytes cannot be negative")
	}

	return nil
}

// ValidateInterruptConfig validates the interruption harness settings.
// Mode and signal names are checked with the interrupt package parsers; here
// only presence and the target range are enforced.
func ValidateInterruptConfig(cfg InterruptConfig, workers int) error {
	mode := strings.ToLower(cfg.Mode)

	if mode == "" || mode == InterruptNone {
		return nil
	}

	if mode != InterruptWorkerFault && cfg.Signal == "" {
		return fseekerr.New(fseekerr.CodeConfigError, "for interrupt mode "+mode+" a signal must be provided")
	}

	if strings.HasPrefix(mode, "worker") && (cfg.Target < 0 || cfg.Target >= workers) {
		return fseekerr.New(fseekerr.CodeConfigError, "interrupt target is not a worker",
			fseekerr.WithDetails(fseekerr.Details{"target": cfg.Target, "workers": workers}))
	}

	return nil
}
