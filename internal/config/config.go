package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the suite file looked up when none is given.
const DefaultFile = "driverpool.yml"

// Config represents the driverpool.yml suite file
type Config struct {
	Version    int                  `yaml:"version"`
	Settings   Settings             `yaml:"settings"`
	Properties PropertySources      `yaml:"properties"`
	Playwright Playwright           `yaml:"playwright"`
	Grid       Grid                 `yaml:"grid"`
	Containers map[string]Container `yaml:"containers"`
	Hooks      Hooks                `yaml:"hooks"`
	Features   Features             `yaml:"features"`
}

type Settings struct {
	Timeout  time.Duration `yaml:"timeout"`
	Parallel int           `yaml:"parallel"`
	FailFast bool          `yaml:"fail_fast"`
	Output   string        `yaml:"output"`
	// Screenshots: on_failure, always, never
	Screenshots string `yaml:"screenshots"`
}

// PropertySources lists the property files backing the registry snapshot,
// the test-data files steps read from, and the overrides applied on top.
type PropertySources struct {
	Files    []string          `yaml:"files"`
	TestData []string          `yaml:"test_data"`
	Set      map[string]string `yaml:"set"`
}

type Playwright struct {
	// Install browser binaries before the first local launch
	Install bool `yaml:"install"`
	Verbose bool `yaml:"verbose"`
}

// Grid points remote execution at a container started by driverpool.
type Grid struct {
	Container string `yaml:"container"`
	Port      string `yaml:"port"`
	Path      string `yaml:"path,omitempty"`
}

// Enabled reports whether the grid is backed by a managed container.
func (g Grid) Enabled() bool {
	return g.Container != ""
}

type Container struct {
	Image     string            `yaml:"image"`
	Env       map[string]string `yaml:"env"`
	Ports     []string          `yaml:"ports"`
	DependsOn []string          `yaml:"depends_on"`
	WaitFor   WaitStrategy      `yaml:"wait_for"`
	// ShmSize accepts docker notation such as "2g"
	ShmSize string `yaml:"shm_size,omitempty"`
}

// ShmBytes returns the parsed shm size, or zero when unset.
func (c Container) ShmBytes() (int64, error) {
	if c.ShmSize == "" {
		return 0, nil
	}
	return units.RAMInBytes(c.ShmSize)
}

type WaitStrategy struct {
	// Can be: port, log, http, exec
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
	// For HTTP
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path,omitempty"`
	// Timeout for wait strategy
	Timeout time.Duration `yaml:"timeout"`
}

type Hooks struct {
	BeforeAll      []Hook `yaml:"before_all"`
	AfterAll       []Hook `yaml:"after_all"`
	BeforeScenario []Hook `yaml:"before_scenario"`
	AfterScenario  []Hook `yaml:"after_scenario"`
}

type Hook struct {
	Exec      string `yaml:"exec,omitempty"`
	Shell     string `yaml:"shell,omitempty"`
	Container string `yaml:"container,omitempty"`
}

type Features struct {
	Paths    []string `yaml:"paths"`
	Tags     string   `yaml:"tags"`
	Scenario string   `yaml:"scenario"`
}

// Default returns the configuration used when no suite file exists.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the driverpool.yml configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 2
	}
	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = 10 * time.Minute
	}
	if c.Settings.Parallel == 0 {
		c.Settings.Parallel = 1
	}
	if c.Settings.Output == "" {
		c.Settings.Output = "pretty"
	}
	if c.Settings.Screenshots == "" {
		c.Settings.Screenshots = "on_failure"
	}
	if len(c.Properties.Files) == 0 {
		c.Properties.Files = []string{DefaultPropertiesFile}
	}
	if len(c.Properties.TestData) == 0 {
		c.Properties.TestData = []string{TestDataPropertiesFile}
	}
	if c.Grid.Enabled() && c.Grid.Port == "" {
		c.Grid.Port = "4444/tcp"
	}
	if len(c.Features.Paths) == 0 {
		c.Features.Paths = []string{"./features"}
	}
}

func (c *Config) validate() error {
	if c.Version != 2 {
		return fmt.Errorf("unsupported config version: %d (expected 2)", c.Version)
	}

	if c.Settings.Parallel < 0 {
		return fmt.Errorf("parallel must be positive, got %d", c.Settings.Parallel)
	}

	validScreenshots := map[string]bool{"on_failure": true, "always": true, "never": true}
	if !validScreenshots[c.Settings.Screenshots] {
		return fmt.Errorf("invalid screenshots setting: %s", c.Settings.Screenshots)
	}

	if c.Grid.Enabled() {
		if _, ok := c.Containers[c.Grid.Container]; !ok {
			return fmt.Errorf("grid references unknown container %q", c.Grid.Container)
		}
	}

	for name, cont := range c.Containers {
		if cont.Image == "" {
			return fmt.Errorf("container %q has no image", name)
		}
		if _, err := cont.ShmBytes(); err != nil {
			return fmt.Errorf("container %q: invalid shm_size: %w", name, err)
		}
		for _, dep := range cont.DependsOn {
			if _, ok := c.Containers[dep]; !ok {
				return fmt.Errorf("container %q depends on unknown container %q", name, dep)
			}
		}
	}

	for _, hooks := range [][]Hook{c.Hooks.BeforeAll, c.Hooks.AfterAll, c.Hooks.BeforeScenario, c.Hooks.AfterScenario} {
		for _, h := range hooks {
			if (h.Exec != "" || h.Shell != "") && h.Container != "" {
				if _, ok := c.Containers[h.Container]; !ok {
					return fmt.Errorf("hook references unknown container %q", h.Container)
				}
			}
		}
	}

	if c.Features.Scenario != "" {
		if _, err := regexp.Compile(c.Features.Scenario); err != nil {
			return fmt.Errorf("invalid scenario filter: %w", err)
		}
	}

	return nil
}
