package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all prospector configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig points at the sqlite file. An empty path means the XDG data dir.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects the model provider used for tile generation.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini, claude
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`       // empty means the provider default
	ParseModel  string  `yaml:"parse_model"` // used by bulk prompt extraction
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

type GenerationConfig struct {
	Timeout         string `yaml:"timeout"`
	MaxPromptTokens int    `yaml:"max_prompt_tokens"`
	HistoryLimit    int    `yaml:"history_limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Temperature: 1,
		},
		Generation: GenerationConfig{
			Timeout:         "2m",
			MaxPromptTokens: 16000,
			HistoryLimit:    6,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && (c.LLM.Provider == "" || c.LLM.Provider == "openai") {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if p := os.Getenv("PROSPECTOR_PROVIDER"); p != "" {
		c.LLM.Provider = p
		if p == "gemini" {
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if addr := os.Getenv("PROSPECTOR_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("PROSPECTOR_DB"); path != "" {
		c.Database.Path = path
	}
	if lvl := os.Getenv("PROSPECTOR_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini", "claude"}

// Validate checks structural settings. Missing credentials are not an
// error here: they surface per generation request instead.
func (c *Config) Validate() error {
	valid := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server address must not be empty")
	}
	if _, err := time.ParseDuration(c.Generation.Timeout); c.Generation.Timeout != "" && err != nil {
		return fmt.Errorf("invalid generation timeout %q: %w", c.Generation.Timeout, err)
	}
	return nil
}

// GetParseModel returns the model used for bulk prompt extraction. OpenAI
// defaults to a smaller model; other providers use their default.
func (c LLMConfig) GetParseModel() string {
	if c.ParseModel != "" {
		return c.ParseModel
	}
	if c.Provider == "openai" {
		return "gpt-4o-mini"
	}
	return ""
}

// GetGenerationTimeout returns the per-stream timeout. Zero disables it.
func (c *Config) GetGenerationTimeout() time.Duration {
	if c.Generation.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Generation.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}
