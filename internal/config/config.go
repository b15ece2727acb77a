// Package config loads and defaults the YAML configuration consumed by
// both cmd/fbuild and cmd/fworker, in the same ReadConfig + fillIn style
// the rest of this codebase's ambient stack follows.
package config

import (
	"os"

	"github.com/xorcare/pointer"
	"gopkg.in/yaml.v3"

	"github.com/InSimo/fastbuild/internal/logger"
)

// Connection describes how to reach a remote peer's admin HTTP API.
type Connection struct {
	Address string `yaml:"Address"`
}

type DBConfig struct {
	Dsn string `yaml:"Dsn"`
	// InMemory selects an in-memory sqlite ledger; meant for tests and demos.
	InMemory bool `yaml:"InMemory"`
}

type AdminAPIConfig struct {
	Host *string `yaml:"Host,omitempty"`
	Port int     `yaml:"Port"`
}

func fillInAdminAPIConfig(c *AdminAPIConfig) {
	if c.Host == nil {
		c.Host = pointer.String("localhost")
	}
	if c.Port == 0 {
		c.Port = 31265
	}
}

// Config is the top-level configuration file shape.
type Config struct {
	Logger *logger.Config `yaml:"Logger,omitempty"`

	Client  *ClientConfig  `yaml:"Client,omitempty"`
	Worker  *WorkerConfig  `yaml:"Worker,omitempty"`
	AdminAPI *AdminAPIConfig `yaml:"AdminAPI,omitempty"`

	DB DBConfig `yaml:"DB"`
}

// ReadFile loads and defaults a Config from a YAML file on disk.
func ReadFile(path string) *Config {
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Panic("can not read config file %s: %s", path, err.Error())
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(content, cfg); err != nil {
		logger.Panic("can not parse config file %s: %s", path, err.Error())
	}
	FillIn(cfg)
	return cfg
}

// FillIn applies defaults to a partially populated Config.
func FillIn(cfg *Config) {
	if cfg.AdminAPI != nil {
		fillInAdminAPIConfig(cfg.AdminAPI)
	}
	if cfg.Client != nil {
		FillInClientConfig(cfg.Client)
	}
	if cfg.Worker != nil {
		FillInWorkerConfig(cfg.Worker)
	}
}
