// Package config loads the dinoe runtime configuration from a YAML file,
// an optional .env file and DINOE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/dinoe/agentloop"
	"github.com/martinemde/dinoe/unifiedllm"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DINOE_"

type StreamConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

type MemoryConfig struct {
	RecallLimit int     `yaml:"recall_limit" env:"RECALL_LIMIT" validate:"gte=1"`
	MinScore    float64 `yaml:"min_score" env:"MIN_SCORE" validate:"gte=0,lte=1"`
}

type LoopGuardConfig struct {
	Threshold int `yaml:"threshold" env:"THRESHOLD" validate:"gte=1"`
}

// Config is the resolved runtime configuration. It is read once at startup
// and not consulted again mid-session.
type Config struct {
	Provider      string          `yaml:"provider" env:"PROVIDER" validate:"required,oneof=openai openrouter glm ollama anthropic"`
	APIKey        string          `yaml:"api_key,omitempty" env:"API_KEY"`
	BaseURL       string          `yaml:"base_url,omitempty" env:"BASE_URL" validate:"omitempty,url"`
	Model         string          `yaml:"model" env:"MODEL"`
	MaxIterations int             `yaml:"max_iterations" env:"MAX_ITERATIONS" validate:"gte=1"`
	MaxHistory    int             `yaml:"max_history" env:"MAX_HISTORY" validate:"gte=2"`
	Temperature   float64         `yaml:"temperature" env:"TEMPERATURE" validate:"gte=0,lte=2"`
	Stream        StreamConfig    `yaml:"stream" envPrefix:"STREAM_"`
	Workspace     string          `yaml:"workspace" env:"WORKSPACE" validate:"required"`
	ShellTimeout  time.Duration   `yaml:"shell_timeout" env:"SHELL_TIMEOUT" validate:"gt=0"`
	Memory        MemoryConfig    `yaml:"memory" envPrefix:"MEMORY_"`
	LoopGuard     LoopGuardConfig `yaml:"loop_guard" envPrefix:"LOOP_GUARD_"`
	ParallelTools bool            `yaml:"parallel_tools" env:"PARALLEL_TOOLS"`
	LogLevel      string          `yaml:"log_level,omitempty" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
}

// Dir is the dinoe home directory, ~/.dinoe.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dinoe"
	}
	return filepath.Join(home, ".dinoe")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() Config {
	return Config{
		Provider:      unifiedllm.ProviderOpenAI,
		MaxIterations: 20,
		MaxHistory:    50,
		Temperature:   1.0,
		Stream:        StreamConfig{Enabled: true},
		Workspace:     filepath.Join(Dir(), "workspace"),
		ShellTimeout:  60 * time.Second,
		Memory: MemoryConfig{
			RecallLimit: agentloop.DefaultRecallLimit,
			MinScore:    agentloop.DefaultRecallMinScore,
		},
		LoopGuard: LoopGuardConfig{Threshold: agentloop.DefaultLoopThreshold},
		LogLevel:  "info",
	}
}

// Load resolves the configuration: defaults, then the YAML file at path
// (DefaultPath when empty; a missing file is not an error), then .env in
// the working directory, then DINOE_* environment variables. The result is
// validated.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path, dotenv string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// A missing .env is the common case.
	_ = godotenv.Load(dotenv)

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	// Aliases such as zai, z.ai, zhipu and claude fold onto their kind.
	c.Provider = unifiedllm.CanonicalProvider(c.Provider)
	c.Workspace = expandHome(strings.TrimSpace(c.Workspace))
	if strings.TrimSpace(c.Model) == "" {
		c.Model = unifiedllm.DefaultModel(c.Provider)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every field that breaks a constraint.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Namespace(), fe.Tag()+paramSuffix(fe.Param()), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// Save writes c as YAML, creating parent directories. The file holds
// credentials, so it is written 0600.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

// ProviderConfig is the provider selection handed to unifiedllm. The API
// key is resolved later by the adapter factory, where provider environment
// variables win over the configured key.
func (c *Config) ProviderConfig() unifiedllm.ProviderConfig {
	return unifiedllm.ProviderConfig{
		Kind:        c.Provider,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		Temperature: c.Temperature,
	}
}

func (c *Config) SessionConfig() agentloop.SessionConfig {
	sc := agentloop.DefaultSessionConfig()
	temp := c.Temperature
	sc.Model = c.Model
	sc.Provider = c.Provider
	sc.Temperature = &temp
	sc.Stream = c.Stream.Enabled
	sc.MaxIterations = c.MaxIterations
	sc.MaxHistory = c.MaxHistory
	if sc.KeepRecent >= c.MaxHistory {
		sc.KeepRecent = c.MaxHistory / 2
	}
	sc.LoopThreshold = c.LoopGuard.Threshold
	sc.ParallelTools = c.ParallelTools
	return sc
}

func (c *Config) CoreToolOptions() agentloop.CoreToolOptions {
	opts := agentloop.DefaultCoreToolOptions()
	opts.ShellTimeout = c.ShellTimeout
	if opts.MaxShellTimeout < c.ShellTimeout {
		opts.MaxShellTimeout = c.ShellTimeout
	}
	return opts
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
