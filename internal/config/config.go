// Package config handles configuration loading for drover.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for drover.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Bus          BusConfig          `mapstructure:"bus"`
	Checkpoint   CheckpointConfig   `mapstructure:"checkpoint"`
	Recovery     RecoveryConfig     `mapstructure:"recovery"`
	Reflection   ReflectionConfig   `mapstructure:"reflection"`
	Fallback     FallbackConfig     `mapstructure:"fallback"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	State        StateConfig        `mapstructure:"state"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CheckpointConfig holds checkpoint persistence settings.
type CheckpointConfig struct {
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
}

// RecoveryConfig holds error recovery settings.
type RecoveryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// ReflectionConfig holds reflection loop settings.
type ReflectionConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxRetries int  `mapstructure:"max_retries"`
}

// FallbackEntry names one provider/model pair in the fallback chain.
type FallbackEntry struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// FallbackConfig holds the ordered model fallback chain.
type FallbackConfig struct {
	Chain []FallbackEntry `mapstructure:"chain"`
}

// OrchestratorConfig holds task execution settings.
type OrchestratorConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

// StateConfig holds run-state database settings.
type StateConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.drover.yaml in current directory or parent)
// 3. User config (~/.config/drover/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("bus.request_timeout", "30s")

	v.SetDefault("checkpoint.dir", "checkpoints")
	v.SetDefault("checkpoint.interval", "30s")

	v.SetDefault("recovery.max_retries", 3)

	v.SetDefault("reflection.enabled", false)
	v.SetDefault("reflection.max_retries", 3)

	v.SetDefault("orchestrator.max_workers", 4)

	v.SetDefault("state.db_path", "")
}

// getUserConfigDir returns the XDG config directory for drover.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "drover")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "drover")
	}
	return filepath.Join(home, ".config", "drover")
}

// findProjectConfig searches for .drover.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".drover.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			RequestTimeout: 30 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			Dir:      "checkpoints",
			Interval: 30 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxRetries: 3,
		},
		Reflection: ReflectionConfig{
			Enabled:    false,
			MaxRetries: 3,
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers: 4,
		},
	}
}
