// Package config loads the agent's TOML configuration file.
//
// Field names and defaults are ported from muranoagent/common/config.py's
// storage_opt/rabbit_opts option lists; the TOML-with-defaults loading shape
// (toml.Decode, then applyDefaults) follows Heikkila-Pty-Ltd-cortex's
// internal/config/config.go. applyDefaults fills any field still at its zero
// value; the decoder's MetaData is not consulted.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the agent's full configuration.
type Config struct {
	Storage   string   `toml:"storage"`
	EngineKey string   `toml:"engine_key"`
	Debug     bool     `toml:"debug"`
	Verbose   bool     `toml:"verbose"`
	RabbitMQ  RabbitMQ `toml:"rabbitmq"`
}

// RabbitMQ is the [rabbitmq] table.
type RabbitMQ struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Login       string `toml:"login"`
	Password    string `toml:"password"`
	VirtualHost string `toml:"virtual_host"`

	SSL        bool   `toml:"ssl"`
	SSLVersion string `toml:"ssl_version"`
	CACerts    string `toml:"ca_certs"`
	Insecure   bool   `toml:"insecure"`

	InputQueue          string `toml:"input_queue"`
	ResultRoutingKey    string `toml:"result_routing_key"`
	ResultExchange      string `toml:"result_exchange"`
	EnableDynamicResult bool   `toml:"enable_dynamic_result_queue"`
}

// Load reads and defaults a TOML configuration file. Any field left unset in
// the file falls back to muranoagent's own [DEFAULT]/[rabbitmq] defaults,
// and the password may be overridden by GUESTAGENT_RABBITMQ_PASSWORD so it
// never has to live in the config file on disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if v := os.Getenv("GUESTAGENT_RABBITMQ_PASSWORD"); v != "" {
		cfg.RabbitMQ.Password = v
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage == "" {
		cfg.Storage = "/var/lib/guestagent/plans"
	}
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.Login == "" {
		cfg.RabbitMQ.Login = "guest"
	}
	if cfg.RabbitMQ.Password == "" {
		cfg.RabbitMQ.Password = "guest"
	}
	if cfg.RabbitMQ.VirtualHost == "" {
		cfg.RabbitMQ.VirtualHost = "/"
	}
	cfg.EngineKey = strings.TrimSpace(cfg.EngineKey)
	cfg.RabbitMQ.CACerts = strings.TrimSpace(cfg.RabbitMQ.CACerts)
}

func validate(cfg *Config) error {
	if cfg.RabbitMQ.InputQueue == "" {
		return fmt.Errorf("rabbitmq.input_queue is required")
	}
	return nil
}
