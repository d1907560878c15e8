package agentloop

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/puding/tools"
)

// Config holds the tunables of a session.
type Config struct {
	MaxIterations       int            `yaml:"max_iterations"`
	ParallelTools       bool           `yaml:"parallel_tools"`
	CommandTimeout      time.Duration  `yaml:"command_timeout"`
	MaxFileSize         int64          `yaml:"max_file_size"`
	ToolOutputLimits    map[string]int `yaml:"tool_output_limits,omitempty"`
	ToolLineLimits      map[string]int `yaml:"tool_line_limits,omitempty"`
	LoopDetectionWindow int            `yaml:"loop_detection_window"` // 0 disables
	ContextWindow       int            `yaml:"context_window"`        // approximate tokens, 0 disables the warning
	EventBuffer         int            `yaml:"event_buffer"`
	UserInstructions    string         `yaml:"user_instructions,omitempty"` // appended last to the system prompt
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       10,
		CommandTimeout:      tools.DefaultCommandTimeout,
		MaxFileSize:         tools.DefaultMaxFileSize,
		LoopDetectionWindow: 6,
		ContextWindow:       128000,
		EventBuffer:         256,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("command_timeout must not be negative, got %s", c.CommandTimeout))
	}
	if c.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("max_file_size must not be negative, got %d", c.MaxFileSize))
	}
	if c.LoopDetectionWindow < 0 {
		errs = append(errs, fmt.Errorf("loop_detection_window must not be negative, got %d", c.LoopDetectionWindow))
	}
	return errors.Join(errs...)
}

// EnvironmentOptions translates the tool limits into tools.EnvOption values.
func (c Config) EnvironmentOptions() []tools.EnvOption {
	return []tools.EnvOption{
		tools.WithCommandTimeout(c.CommandTimeout),
		tools.WithMaxFileSize(c.MaxFileSize),
	}
}
