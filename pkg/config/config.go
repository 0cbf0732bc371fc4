package config

import (
	"fmt"
	"os"

	"github.com/oarkflow/errors"
	"gopkg.in/yaml.v3"
)

// FeedConfig names where raw messages come from. Exactly one of File or
// AMQP should be set; when both are present the file wins.
type FeedConfig struct {
	File string     `yaml:"file,omitempty" json:"file,omitempty"`
	AMQP AMQPConfig `yaml:"amqp,omitempty" json:"amqp,omitempty"`
}

// AMQPConfig points at a broker queue carrying raw messages.
type AMQPConfig struct {
	URI   string `yaml:"uri,omitempty" json:"uri,omitempty"`
	Queue string `yaml:"queue,omitempty" json:"queue,omitempty"`
}

// ScheduleConfig runs a saved query on a cron spec and appends its export
// to a file.
type ScheduleConfig struct {
	Query      string `yaml:"query" json:"query"`
	Cron       string `yaml:"cron" json:"cron"`
	ExportPath string `yaml:"export_path,omitempty" json:"export_path,omitempty"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// CacheConfig sizes the parsed-snapshot cache.
type CacheConfig struct {
	MaxEntries int64 `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`
}

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Database  string           `yaml:"database,omitempty" json:"database,omitempty"`
	Cache     CacheConfig      `yaml:"cache,omitempty" json:"cache,omitempty"`
	Feed      FeedConfig       `yaml:"feed,omitempty" json:"feed,omitempty"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty" json:"schedules,omitempty"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Database == "" {
		c.Database = "data/hl7ql.db"
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1024
	}
}

func (c *Config) validate() error {
	for i, sched := range c.Schedules {
		if sched.Query == "" {
			return errors.New(fmt.Sprintf("schedule %d: query name is required", i))
		}
		if sched.Cron == "" {
			return errors.New(fmt.Sprintf("schedule %d: cron spec is required", i))
		}
	}
	if c.Feed.AMQP.URI != "" && c.Feed.AMQP.Queue == "" {
		return errors.New("feed.amqp: queue name is required when a broker URI is set")
	}
	return nil
}
