package config

import (
	"fmt"
	"os"

	"github.com/vitos/option_trade_exit/internal/usecase"
	"gopkg.in/yaml.v3"
)

// Config is the full, validated application configuration. It is built
// once at startup and never mutated afterwards.
type Config struct {
	Feed struct {
		WSEndpoint   string   `yaml:"ws_endpoint"`
		RESTEndpoint string   `yaml:"rest_endpoint"`
		Symbols      []string `yaml:"symbols"`
	} `yaml:"feed"`
	Journal struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"journal"`
	Logging struct {
		Level     string `yaml:"level"`
		TradeFile string `yaml:"trade_file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Exit ExitConfig `yaml:"exit"`
}

// ExitConfig groups every engine's thresholds.
type ExitConfig struct {
	Orchestrator usecase.OrchestratorConfig `yaml:"orchestrator"`
	Trailing     usecase.TrailingConfig     `yaml:"trailing"`
	Partial      usecase.PartialExitConfig  `yaml:"partial"`
	Theta        usecase.ThetaExitConfig    `yaml:"theta"`
	TimeExit     usecase.TimeExitConfig     `yaml:"time_exit"`
	Cooldown     usecase.CooldownConfig     `yaml:"cooldown"`
	Reversal     usecase.OIReversalConfig   `yaml:"reversal"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Journal.DBPath = "journal.db"
	cfg.Logging.Level = "info"
	cfg.Server.Port = 8080
	cfg.Exit = ExitConfig{
		Orchestrator: usecase.DefaultOrchestratorConfig(),
		Trailing:     usecase.DefaultTrailingConfig(),
		Partial:      usecase.DefaultPartialExitConfig(),
		Theta:        usecase.DefaultThetaExitConfig(),
		TimeExit:     usecase.DefaultTimeExitConfig(),
		Cooldown:     usecase.DefaultCooldownConfig(),
		Reversal:     usecase.DefaultOIReversalConfig(),
	}
	return cfg
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for name, v := range map[string]interface{ Validate() error }{
		"exit.orchestrator": c.Exit.Orchestrator,
		"exit.trailing":     c.Exit.Trailing,
		"exit.partial":      c.Exit.Partial,
		"exit.theta":        c.Exit.Theta,
		"exit.time_exit":    c.Exit.TimeExit,
		"exit.cooldown":     c.Exit.Cooldown,
		"exit.reversal":     c.Exit.Reversal,
	} {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
