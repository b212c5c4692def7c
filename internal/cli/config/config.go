package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultKafkaBroker = "127.0.0.1:9092"
	DefaultRedisAddr   = "127.0.0.1:6379"
	DefaultStatusURL   = "http://127.0.0.1:8090"
	DefaultTransport   = "sms"
	DefaultFromAddr    = "+10001"
	DefaultTimeout     = 10 * time.Second
	DefaultStatePath   = "configs/cli_state.json"
)

// Config holds CLI configuration.
type Config struct {
	KafkaBrokers []string      `yaml:"kafkaBrokers"`
	RedisAddr    string        `yaml:"redisAddr"`
	StatusURL    string        `yaml:"statusURL"`
	Transport    string        `yaml:"transport"`
	FromAddr     string        `yaml:"fromAddr"`
	Timeout      time.Duration `yaml:"timeout"`
	StatePath    string        `yaml:"statePath"`
	PrettyJSON   *bool         `yaml:"prettyJSON"`
}

// Load reads the CLI config. A missing file yields the defaults so the
// tool works against a local deployment with no setup.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{DefaultKafkaBroker}
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = DefaultRedisAddr
	}
	if cfg.StatusURL == "" {
		cfg.StatusURL = DefaultStatusURL
	}
	if cfg.Transport == "" {
		cfg.Transport = DefaultTransport
	}
	if cfg.FromAddr == "" {
		cfg.FromAddr = DefaultFromAddr
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
}
