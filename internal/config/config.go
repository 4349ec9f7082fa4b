// Package config holds all quizagent configuration. Configuration is an
// explicit object built once at startup (YAML file plus environment
// overrides) and handed to components; nothing deeper in the tree reads
// ambient process state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	LLM     LLMConfig     `yaml:"llm"`
	Browser BrowserConfig `yaml:"browser"`
	Chain   ChainConfig   `yaml:"chain"`
	Store   StoreConfig   `yaml:"store"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	GinMode         string   `yaml:"gin_mode"`
	AllowOrigins    []string `yaml:"allow_origins"`
	MaxActiveChains int64    `yaml:"max_active_chains"`
}

// AuthConfig holds the expected trigger credentials. A solve request is
// accepted only when both fields match exactly.
type AuthConfig struct {
	Email  string `yaml:"email"`
	Secret string `yaml:"secret"`
}

// LLMConfig configures the language-model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openrouter
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// BrowserConfig configures page rendering.
type BrowserConfig struct {
	// Backend selects the fetcher: "rod" renders with headless Chrome,
	// "http" does a plain GET with HTML text extraction.
	Backend             string `yaml:"backend"`
	Headless            bool   `yaml:"headless"`
	DebuggerURL         string `yaml:"debugger_url"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
}

// ChainConfig configures one quiz chain run.
type ChainConfig struct {
	// DeadlineSeconds is converted to an absolute instant when a chain
	// starts; elapsed time across steps counts against it.
	DeadlineSeconds int `yaml:"deadline_seconds"`
	// MaxSteps is a runaway-loop guard, not a business rule.
	MaxSteps int `yaml:"max_steps"`
	// ExecutorMode is "materialized" or "selffetch". It binds the solver
	// prompt and the sandbox namespace together; mixing them produces
	// name-resolution failures at execution time.
	ExecutorMode string `yaml:"executor_mode"`
	// ExecTimeoutSeconds bounds one sandboxed execution.
	ExecTimeoutSeconds int `yaml:"exec_timeout_seconds"`
	// SubmitOverrides maps a host substring to a fallback submit path used
	// when the planned submit URL lacks a submission-path marker.
	SubmitOverrides map[string]string `yaml:"submit_overrides"`
}

// StoreConfig configures the chain status store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			GinMode:         "release",
			MaxActiveChains: 8,
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},
		Browser: BrowserConfig{
			Backend:             "rod",
			Headless:            true,
			NavigationTimeoutMs: 30000,
		},
		Chain: ChainConfig{
			DeadlineSeconds:    180,
			MaxSteps:           50,
			ExecutorMode:       "materialized",
			ExecTimeoutSeconds: 60,
			SubmitOverrides:    map[string]string{},
		},
		Store: StoreConfig{
			Path: "quizagent.db",
		},
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides, and validates the result. A missing file is not an error; the
// defaults plus environment are enough to run.
func Load(path string) (Config, error) {
	// .env is optional; godotenv never overrides variables already set.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUIZ_EMAIL"); v != "" {
		cfg.Auth.Email = v
	}
	if v := os.Getenv("QUIZ_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" && cfg.LLM.Provider != "openrouter" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && cfg.LLM.Provider == "openrouter" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("QUIZAGENT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("QUIZAGENT_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("QUIZAGENT_STORE"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate checks settings that would otherwise fail mid-chain.
func (c Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not set (GOOGLE_API_KEY or OPENROUTER_API_KEY)")
	}
	switch c.LLM.Provider {
	case "gemini", "openrouter":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Chain.ExecutorMode {
	case "materialized", "selffetch":
	default:
		return fmt.Errorf("unknown executor mode %q", c.Chain.ExecutorMode)
	}
	switch c.Browser.Backend {
	case "rod", "http":
	default:
		return fmt.Errorf("unknown browser backend %q", c.Browser.Backend)
	}
	if c.Chain.DeadlineSeconds <= 0 {
		return fmt.Errorf("chain deadline must be positive")
	}
	if c.Chain.MaxSteps <= 0 {
		return fmt.Errorf("chain max_steps must be positive")
	}
	return nil
}

// LLMTimeout parses the configured LLM timeout, with a fallback.
func (c LLMConfig) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// NavigationTimeout returns the navigation timeout.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Deadline converts the configured chain budget to an absolute instant.
func (c ChainConfig) Deadline(now time.Time) time.Time {
	return now.Add(time.Duration(c.DeadlineSeconds) * time.Second)
}

// ExecTimeout bounds one sandboxed execution.
func (c ChainConfig) ExecTimeout() time.Duration {
	if c.ExecTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ExecTimeoutSeconds) * time.Second
}
