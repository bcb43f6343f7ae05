package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/queue"
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

// Models maps role pointers to model IDs. The turn loop streams with Main;
// the compressor uses Quick. Unset roles fall back to Main.
type Models struct {
	Main      string `yaml:"main"`
	Task      string `yaml:"task"`
	Reasoning string `yaml:"reasoning"`
	Quick     string `yaml:"quick"`
}

// ForRole resolves a role pointer, falling back to Main.
func (m Models) ForRole(role string) string {
	var id string
	switch role {
	case "task":
		id = m.Task
	case "reasoning":
		id = m.Reasoning
	case "quick":
		id = m.Quick
	}
	if id == "" {
		return m.Main
	}
	return id
}

// QueueConfig sizes the message queue.
type QueueConfig struct {
	Capacity  int `yaml:"capacity"`
	HighWater int `yaml:"high_water"`
}

// DispatcherConfig sizes the tool worker pool and its timeouts.
type DispatcherConfig struct {
	PoolSize       int `yaml:"pool_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// CompressionConfig controls the context compressor.
type CompressionConfig struct {
	// Trigger is the context-window fraction at which compression runs.
	Trigger float64 `yaml:"trigger"`
	// Target is the fraction compression aims to shrink down to.
	Target float64 `yaml:"target"`
	// KeepTurns is the number of newest turns never compressed.
	KeepTurns int `yaml:"keep_turns"`
}

// ModePolicyConfig is the YAML form of a per-mode permission policy.
type ModePolicyConfig struct {
	AlwaysAllow []string `yaml:"always_allow"`
	AlwaysDeny  []string `yaml:"always_deny"`
}

// Config is the runtime configuration, loaded once per process run.
type Config struct {
	Provider string `yaml:"provider"` // "anthropic" | "openai" | "bedrock"
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Region   string `yaml:"region"`  // bedrock
	Profile  string `yaml:"profile"` // bedrock AWS profile

	Models        Models   `yaml:"models"`
	ThinkingLevel string   `yaml:"thinking_level"` // "" | "off" | "low" | "medium" | "high"
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature"`

	// ContextWindow overrides the model registry's window. 0 = look up.
	ContextWindow int `yaml:"context_window"`

	Queue       QueueConfig                 `yaml:"queue"`
	Dispatcher  DispatcherConfig            `yaml:"dispatcher"`
	Compression CompressionConfig           `yaml:"compression"`
	Modes       map[string]ModePolicyConfig `yaml:"modes"`

	MaxRounds  int  `yaml:"max_rounds"`
	MaxRetries int  `yaml:"max_retries"`
	SafeMode   bool `yaml:"safe_mode"`

	SessionsDir string `yaml:"sessions_dir"`
	LogLevel    string `yaml:"log_level"` // "debug" | "info" | "warn" | "error"
}

// DefaultConfig returns a config with every default applied and no provider
// credentials set.
func DefaultConfig() *Config {
	c := &Config{Provider: "anthropic"}
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML config file, expanding ${ENV_VAR} references
// before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = queue.DefaultCapacity
	}
	if c.Queue.HighWater == 0 {
		c.Queue.HighWater = queue.DefaultHighWater
	}
	if c.Dispatcher.PoolSize == 0 {
		c.Dispatcher.PoolSize = tools.DefaultPoolSize
	}
	if c.Dispatcher.TimeoutSeconds == 0 {
		c.Dispatcher.TimeoutSeconds = int(tools.DefaultCallTimeout / time.Second)
	}
	if c.Compression.Trigger == 0 {
		c.Compression.Trigger = 0.85
	}
	if c.Compression.Target == 0 {
		c.Compression.Target = 0.6
	}
	if c.Compression.KeepTurns == 0 {
		c.Compression.KeepTurns = 3
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Modes == nil {
		c.Modes = map[string]ModePolicyConfig{
			string(plan.ModeDefault): {
				AlwaysAllow: []string{"read", "grep", "find", "ls", "TodoWrite"},
			},
			string(plan.ModePlan): {
				AlwaysAllow: []string{"read", "grep", "find", "ls", plan.ExitPlanModeTool},
			},
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the config for contract violations. Defaults must already
// be applied.
func (c *Config) Validate() error {
	switch c.Provider {
	case "anthropic", "openai", "bedrock":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.Models.Main == "" {
		return fmt.Errorf("config: models.main is required")
	}
	if c.Queue.HighWater >= c.Queue.Capacity {
		return fmt.Errorf("config: queue.high_water (%d) must be below queue.capacity (%d)",
			c.Queue.HighWater, c.Queue.Capacity)
	}
	if t := c.Compression.Trigger; t <= 0 || t > 1 {
		return fmt.Errorf("config: compression.trigger %v out of (0, 1]", t)
	}
	if c.Compression.Target <= 0 || c.Compression.Target >= c.Compression.Trigger {
		return fmt.Errorf("config: compression.target %v must be in (0, trigger)", c.Compression.Target)
	}
	if c.Compression.KeepTurns < 1 {
		return fmt.Errorf("config: compression.keep_turns must be at least 1")
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("config: max_rounds must be at least 1")
	}
	if c.Dispatcher.TimeoutSeconds > int(tools.MaxCallTimeout/time.Second) {
		return fmt.Errorf("config: dispatcher.timeout_seconds exceeds %s", tools.MaxCallTimeout)
	}
	switch c.ThinkingLevel {
	case "", "off", "low", "medium", "high":
	default:
		return fmt.Errorf("config: unknown thinking_level %q", c.ThinkingLevel)
	}
	return nil
}

// ModePolicies converts the YAML policy map to the gate's form.
func (c *Config) ModePolicies() map[plan.Mode]tools.ModePolicy {
	out := make(map[plan.Mode]tools.ModePolicy, len(c.Modes))
	for mode, p := range c.Modes {
		out[plan.Mode(mode)] = tools.ModePolicy{
			AlwaysAllow: p.AlwaysAllow,
			AlwaysDeny:  p.AlwaysDeny,
		}
	}
	return out
}

// CallTimeout returns the dispatcher's default per-call timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Dispatcher.TimeoutSeconds) * time.Second
}
