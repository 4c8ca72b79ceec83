package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mysql-binlog-watcher/internal/transform"
)

type Config struct {
	MySQL     MySQLConfig      `yaml:"mysql"`
	Source    SourceConfig     `yaml:"source"`
	NATS      NATSConfig       `yaml:"nats"`
	Transform transform.Config `yaml:"transform"`
	Logging   LoggingConfig    `yaml:"logging"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"` // mysql, mariadb
}

type SourceConfig struct {
	StartAtEnd bool `yaml:"start_at_end"`

	// IncludeSchema maps schema names to table lists; an empty list monitors
	// the whole schema. These become the initial subscriptions.
	IncludeSchema map[string][]string `yaml:"include_schema"`
	ExcludeSchema map[string][]string `yaml:"exclude_schema"`

	// IncludeEvents: insert, update, delete, tablemeta. Empty means row
	// changes only.
	IncludeEvents []string `yaml:"include_events"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Pattern       string        `yaml:"pattern"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.MySQL.Flavor == "" {
		config.MySQL.Flavor = "mysql"
	}
	if config.MySQL.ServerID == 0 {
		config.MySQL.ServerID = 1001
	}
	if config.NATS.ReconnectWait == 0 {
		config.NATS.ReconnectWait = 2 * time.Second
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "binlog"
	}
	if config.NATS.Pattern == "" {
		config.NATS.Pattern = "*.*.*"
	}

	return &config, nil
}
