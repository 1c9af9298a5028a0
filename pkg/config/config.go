// Package config provides configuration loading for the xbatctld daemon.
//
// Configuration is resolved in three layers: compiled-in defaults, an
// optional YAML file, and XBATCTLD_* environment variables (highest
// precedence). The resolved configuration is validated once at startup
// and passed by value into every component.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Build modes
const (
	BuildDev  = "dev"
	BuildProd = "prod"
)

// MongoConfig holds document-store connection parameters.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// QuestConfig holds time-series-store connection parameters. QuestDB is
// reached over the Postgres wire protocol, usually through a pooler.
type QuestConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Config is the resolved daemon configuration.
type Config struct {
	Build    string `yaml:"build"` // dev | prod
	Demo     bool   `yaml:"demo"`
	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`

	ListenRPC     string `yaml:"listenRpc"`
	ListenMetrics string `yaml:"listenMetrics"`

	// PipeDirectory and LockDirectory default per build mode when empty
	// (prod: /run/xbatctld, dev: /tmp).
	PipeDirectory string `yaml:"pipeDirectory"`
	LockDirectory string `yaml:"lockDirectory"`

	// HomeMountPrefix is where user home trees are mounted inside the
	// controller's container.
	HomeMountPrefix string `yaml:"homeMountPrefix"`

	// CLIMonitorInterval is the sampling interval (seconds) handed to node
	// agents for jobs registered from the CLI.
	CLIMonitorInterval int `yaml:"cliMonitorInterval"`

	MongoDB MongoConfig `yaml:"mongodb"`
	QuestDB QuestConfig `yaml:"questdb"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		Build:              BuildDev,
		Demo:               false,
		LogLevel:           "info",
		LogJSON:            false,
		ListenRPC:          ":50051",
		ListenMetrics:      ":9100",
		HomeMountPrefix:    "/external",
		CLIMonitorInterval: 10,
		MongoDB: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "xbat",
		},
		QuestDB: QuestConfig{
			Host:     "localhost",
			Port:     8812,
			User:     "admin",
			Database: "questdb",
		},
	}
}

// Load resolves the configuration from defaults, an optional YAML file and
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("XBATCTLD_BUILD"); v != "" {
		c.Build = v
	}
	if v := os.Getenv("XBATCTLD_DEMO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid XBATCTLD_DEMO: %w", err)
		}
		c.Demo = b
	}
	if v := os.Getenv("XBATCTLD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("XBATCTLD_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid XBATCTLD_LOG_JSON: %w", err)
		}
		c.LogJSON = b
	}
	if v := os.Getenv("XBATCTLD_LISTEN_RPC"); v != "" {
		c.ListenRPC = v
	}
	if v := os.Getenv("XBATCTLD_LISTEN_METRICS"); v != "" {
		c.ListenMetrics = v
	}
	if v := os.Getenv("XBATCTLD_PIPE_DIRECTORY"); v != "" {
		c.PipeDirectory = v
	}
	if v := os.Getenv("XBATCTLD_LOCK_DIRECTORY"); v != "" {
		c.LockDirectory = v
	}
	if v := os.Getenv("XBATCTLD_HOME_MOUNT_PREFIX"); v != "" {
		c.HomeMountPrefix = v
	}
	if v := os.Getenv("XBATCTLD_CLI_MONITOR_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid XBATCTLD_CLI_MONITOR_INTERVAL: %w", err)
		}
		c.CLIMonitorInterval = n
	}
	if v := os.Getenv("XBATCTLD_MONGODB_URI"); v != "" {
		c.MongoDB.URI = v
	}
	if v := os.Getenv("XBATCTLD_MONGODB_DATABASE"); v != "" {
		c.MongoDB.Database = v
	}
	if v := os.Getenv("XBATCTLD_MONGODB_USER"); v != "" {
		c.MongoDB.User = v
	}
	if v := os.Getenv("XBATCTLD_MONGODB_PASSWORD"); v != "" {
		c.MongoDB.Password = v
	}
	if v := os.Getenv("XBATCTLD_QUESTDB_HOST"); v != "" {
		c.QuestDB.Host = v
	}
	if v := os.Getenv("XBATCTLD_QUESTDB_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid XBATCTLD_QUESTDB_PORT: %w", err)
		}
		c.QuestDB.Port = n
	}
	if v := os.Getenv("XBATCTLD_QUESTDB_USER"); v != "" {
		c.QuestDB.User = v
	}
	if v := os.Getenv("XBATCTLD_QUESTDB_PASSWORD"); v != "" {
		c.QuestDB.Password = v
	}
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Build != BuildDev && c.Build != BuildProd {
		return fmt.Errorf("invalid build mode %q (must be %q or %q)", c.Build, BuildDev, BuildProd)
	}
	if c.ListenRPC == "" {
		return fmt.Errorf("listenRpc must not be empty")
	}
	if c.MongoDB.URI == "" || c.MongoDB.Database == "" {
		return fmt.Errorf("mongodb uri and database must be set")
	}
	if c.QuestDB.Host == "" || c.QuestDB.Port <= 0 {
		return fmt.Errorf("questdb host and port must be set")
	}
	if c.CLIMonitorInterval <= 0 {
		return fmt.Errorf("cliMonitorInterval must be positive")
	}
	return nil
}

// UseTestdata reports whether embedded scheduler captures replace host
// calls. Dev builds and demo deployments never talk to a real scheduler.
func (c *Config) UseTestdata() bool {
	return c.Build == BuildDev || c.Demo
}

// PipeDir returns the host-bridge FIFO directory, defaulting per build mode.
func (c *Config) PipeDir() string {
	if c.PipeDirectory != "" {
		return c.PipeDirectory
	}
	if c.Build == BuildProd {
		return "/run/xbatctld"
	}
	return "/tmp"
}

// LockDir returns the directory for cross-process allocator locks,
// defaulting per build mode.
func (c *Config) LockDir() string {
	if c.LockDirectory != "" {
		return c.LockDirectory
	}
	if c.Build == BuildProd {
		return "/run/xbatctld"
	}
	return "/tmp"
}

// QuestDSN renders the Postgres-wire connection string for the time-series
// store.
func (c *Config) QuestDSN() string {
	db := c.QuestDB.Database
	if db == "" {
		db = "questdb"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?connect_timeout=10",
		c.QuestDB.User, c.QuestDB.Password, c.QuestDB.Host, c.QuestDB.Port, db)
}
