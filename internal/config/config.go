package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Context ContextConfig `mapstructure:"context"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type JobsConfig struct {
	Directory     string        `mapstructure:"directory"`
	Workers       int           `mapstructure:"workers"`
	QueueLimit    int           `mapstructure:"queue_limit"`
	MaxTaskBytes  int           `mapstructure:"max_task_bytes"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SandboxConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type ContextConfig struct {
	Directory  string        `mapstructure:"directory"`
	MaxEntries int           `mapstructure:"max_entries"`
	MaxAge     time.Duration `mapstructure:"max_age"`
}

type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in common locations
		v.SetConfigName("config")
		v.AddConfigPath(".")
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".anvil"))
	}

	// Set defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("jobs.directory", "./jobs")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_limit", 64)
	v.SetDefault("jobs.max_task_bytes", 64*1024)
	v.SetDefault("jobs.timeout", 5*time.Minute)
	v.SetDefault("jobs.retention", 24*time.Hour)
	v.SetDefault("jobs.sweep_interval", 10*time.Minute)
	v.SetDefault("sandbox.call_timeout", 30*time.Second)
	v.SetDefault("context.directory", "./context")
	v.SetDefault("context.max_entries", 500)
	v.SetDefault("context.max_age", 7*24*time.Hour)
	v.SetDefault("archive.path", "./anvil.db")

	// Environment variables take priority: ANVIL_JOBS_WORKERS etc.
	v.AutomaticEnv()
	v.SetEnvPrefix("ANVIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if port := os.Getenv("HTTP_PORT"); port != "" {
		v.Set("server.port", port)
	}
	if dir := os.Getenv("JOBS_DIR"); dir != "" {
		v.Set("jobs.directory", dir)
	}
	if dir := os.Getenv("CONTEXT_DIR"); dir != "" {
		v.Set("context.directory", dir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Jobs.Workers < 1 {
		cfg.Jobs.Workers = 1
	}
	if cfg.Jobs.QueueLimit < 1 {
		cfg.Jobs.QueueLimit = 1
	}

	return &cfg, nil
}
