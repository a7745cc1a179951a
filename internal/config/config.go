// Package config loads the service configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const envPrefix = "ORCHESTRATOR"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	OpenAI     KeyConfig        `mapstructure:"openai"`
	Anthropic  KeyConfig        `mapstructure:"anthropic"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type EngineConfig struct {
	MaxSteps         int           `mapstructure:"max_steps"`
	RecursionLimit   int           `mapstructure:"recursion_limit"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
}

type CheckpointConfig struct {
	Driver        string        `mapstructure:"driver"`
	Path          string        `mapstructure:"path"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type PlannerConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

type AgentsConfig struct {
	Summarizer string `mapstructure:"summarizer"`
}

type KeyConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load reads the configuration. An empty path searches the working directory
// and the user config directory; a missing file is not an error there.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orchestrator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(userConfigDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", envPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic.api_key", envPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for key, n := range map[string]int{
		"engine.max_steps":         c.Engine.MaxSteps,
		"engine.recursion_limit":   c.Engine.RecursionLimit,
		"engine.failure_threshold": c.Engine.FailureThreshold,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, n))
		}
	}
	if c.Engine.ToolTimeout < 0 {
		errs = append(errs, errors.New("engine.tool_timeout must not be negative"))
	}

	switch c.Checkpoint.Driver {
	case "memory":
	case "sqlite":
		if c.Checkpoint.Path == "" {
			errs = append(errs, errors.New("checkpoint.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint.driver %q", c.Checkpoint.Driver))
	}

	switch c.Planner.Provider {
	case "static":
	case "openai":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("the openai planner needs OPENAI_API_KEY"))
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("the anthropic planner needs ANTHROPIC_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown planner.provider %q", c.Planner.Provider))
	}

	switch c.Agents.Summarizer {
	case "none":
	case "openai":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("the openai summarizer needs OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown agents.summarizer %q", c.Agents.Summarizer))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("engine.max_steps", 50)
	v.SetDefault("engine.recursion_limit", 5)
	v.SetDefault("engine.failure_threshold", 3)
	v.SetDefault("engine.tool_timeout", "5m")

	v.SetDefault("checkpoint.driver", "memory")
	v.SetDefault("checkpoint.path", "orchestrator.db")
	v.SetDefault("checkpoint.retention", "24h")
	v.SetDefault("checkpoint.prune_interval", "10m")

	v.SetDefault("planner.provider", "static")
	v.SetDefault("planner.model", "")
	v.SetDefault("agents.summarizer", "none")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("anthropic.api_key", "")
}

func userConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "orchestrator")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "orchestrator")
	}
	return filepath.Join(home, ".config", "orchestrator")
}
