// Package config loads and validates Pakman's run-time configuration: the
// ambient knobs that govern the dispatch core (main-loop sleep, kill
// timeout, error handling policy) independent of which Master or
// Controller variant is selected. Mirrors the teacher's struct-of-structs
// YAML layout (internal/cli.Config in the teacher repository).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every YAML-configurable setting of the dispatch core.
type Config struct {
	// Worker holds settings shared by both Worker Handler variants.
	Worker struct {
		Count              int           `yaml:"count"`
		KillTimeout        time.Duration `yaml:"kill_timeout"`
		DiscardChildStderr bool          `yaml:"discard_child_stderr"`
		ForceLocalSpawn    bool          `yaml:"force_local_spawn"`
	} `yaml:"worker"`

	// Loop holds settings for the cooperative event loop.
	Loop struct {
		MainLoopSleep time.Duration `yaml:"main_loop_sleep"`
	} `yaml:"loop"`

	// Errors holds the global error-handling policy.
	Errors struct {
		Ignore bool `yaml:"ignore"`
	} `yaml:"errors"`

	// Output holds where the accepted-parameters population is written.
	Output struct {
		Path string `yaml:"path"`
	} `yaml:"output"`

	// Metrics holds optional Prometheus exposition settings.
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"metrics"`
}

// Default returns a Config populated with Pakman's defaults.
func Default() Config {
	var c Config
	c.Worker.Count = 1
	c.Worker.KillTimeout = 5 * time.Second
	c.Loop.MainLoopSleep = time.Millisecond
	c.Output.Path = ""
	c.Metrics.Address = ":9090"
	return c
}

// Load reads a YAML file at path and overlays it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Worker.Count < 1 {
		return fmt.Errorf("config: worker.count must be at least 1, got %d", c.Worker.Count)
	}
	if c.Loop.MainLoopSleep < 0 {
		return fmt.Errorf("config: loop.main_loop_sleep must not be negative")
	}
	if c.Worker.KillTimeout < 0 {
		return fmt.Errorf("config: worker.kill_timeout must not be negative")
	}
	return nil
}
