// Package config loads and validates the optional suiterun config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values for runner and history configuration.
const (
	DefaultMaxOutput = 1 << 20 // 1 MB
	DefaultHistory   = 64
)

// FileNames are the config file names searched for, in order of preference.
var FileNames = []string{".suiterun.yaml", ".suiterun.yml", ".suiterun.toml"}

// Config holds the parsed suiterun configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int                    `yaml:"version" toml:"version"`
	RawMaxOutput int                    `yaml:"max_output" toml:"max_output"` // bytes per stream
	RawWorkspace string                 `yaml:"workspace" toml:"workspace"`   // relative to the config file
	History      HistoryConfig          `yaml:"history" toml:"history"`
	HTTP         HTTPConfig             `yaml:"http" toml:"http"`
	Suites       map[string]SuiteConfig `yaml:"suites" toml:"suites"`

	dir string
}

// HistoryConfig bounds how many finished runs are kept in memory.
type HistoryConfig struct {
	Size *int `yaml:"size" toml:"size"` // nil means DefaultHistory; 0 keeps every run live
	Disk *bool `yaml:"disk" toml:"disk"` // nil means true; spill evicted runs to JSON files
}

// HTTPConfig configures the HTTP surface of `suiterun serve`.
type HTTPConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// SuiteConfig describes how to run and decode one suite.
type SuiteConfig struct {
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
	Dir     string   `yaml:"dir" toml:"dir"`         // relative to the workspace
	Env     []string `yaml:"env" toml:"env"`         // KEY=VALUE
	Decoder string   `yaml:"decoder" toml:"decoder"` // json (default), gotest, golangci or staticcheck
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// HistorySize returns how many finished runs to keep in memory.
// Zero disables the history store.
func (c *Config) HistorySize() int {
	if c.History.Size == nil {
		return DefaultHistory
	}
	return max(*c.History.Size, 0)
}

// HistoryOnDisk reports whether evicted runs spill to disk. Spilling is on
// unless disabled explicitly with `disk: false`.
func (c *Config) HistoryOnDisk() bool {
	if c.HistorySize() == 0 {
		return false
	}
	return c.History.Disk == nil || *c.History.Disk
}

// Workspace returns the directory suites run in. A relative workspace is
// resolved against the directory of the config file.
func (c *Config) Workspace() string {
	switch {
	case c.RawWorkspace == "":
		return c.dir
	case filepath.IsAbs(c.RawWorkspace):
		return filepath.Clean(c.RawWorkspace)
	default:
		return filepath.Join(c.dir, c.RawWorkspace)
	}
}

// SuiteNames returns the configured suite names, sorted.
func (c *Config) SuiteNames() []string {
	names := make([]string, 0, len(c.Suites))
	for name := range c.Suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every suite has a command.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.SuiteNames() {
		if strings.TrimSpace(c.Suites[name].Command) == "" {
			errs = append(errs, fmt.Errorf("suite %q: command is required", name))
		}
	}
	return errors.Join(errs...)
}

// LoadResult holds the parsed config and where it came from.
type LoadResult struct {
	Config *Config
	Path   string // config file path; empty when no file was found
}

// Load searches for a config file starting at dir and walking upward.
// If none exists, an empty Config rooted at dir is returned.
func Load(dir string) (*LoadResult, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	path, ok := find(dir)
	if !ok {
		return &LoadResult{Config: &Config{dir: dir}}, nil
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// LoadFile parses the config file at path. Files ending in .toml are
// parsed as TOML, everything else as YAML.
func LoadFile(path string) (*Config, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
	}
	cfg.dir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// find walks upward from dir looking for one of FileNames.
func find(dir string) (string, bool) {
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
