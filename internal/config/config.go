package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every configuration validation error.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Jobs    JobsConfig    `yaml:"jobs"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
}

type JobsConfig struct {
	Dir          string `yaml:"dir"`
	MaxBackups   int    `yaml:"max_backups"`
	MaxWorkers   int    `yaml:"max_workers"`
	PollInterval string `yaml:"poll_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MonitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Jobs: JobsConfig{
			MaxBackups:   1,
			MaxWorkers:   1,
			PollInterval: "10ms",
		},
		Log: LogConfig{
			Level: "info",
		},
		Monitor: MonitorConfig{
			Enabled:  false,
			Interval: "5s",
		},
	}
}

// Load reads the YAML file at configPath. When the file cannot be read the
// configuration comes from environment variables, after loading .env or
// .env.local if present.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if err := godotenv.Load(); err != nil {
			_ = godotenv.Load(".env.local")
		}
		return fromEnv(cfg)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func fromEnv(cfg *Config) (*Config, error) {
	var err error

	cfg.Jobs.Dir = getEnv("KVS_JOBS_DIR", cfg.Jobs.Dir)
	cfg.Jobs.PollInterval = getEnv("KVS_POLL_INTERVAL", cfg.Jobs.PollInterval)
	cfg.Log.Level = getEnv("KVS_LOG_LEVEL", cfg.Log.Level)
	cfg.Monitor.Interval = getEnv("KVS_MONITOR_INTERVAL", cfg.Monitor.Interval)

	if cfg.Jobs.MaxBackups, err = getEnvInt("KVS_MAX_BACKUPS", cfg.Jobs.MaxBackups); err != nil {
		return nil, err
	}
	if cfg.Jobs.MaxWorkers, err = getEnvInt("KVS_MAX_WORKERS", cfg.Jobs.MaxWorkers); err != nil {
		return nil, err
	}
	if value, ok := os.LookupEnv("KVS_MONITOR_ENABLED"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: KVS_MONITOR_ENABLED=%q", ErrInvalid, value)
		}
		cfg.Monitor.Enabled = enabled
	}

	return cfg, nil
}

// ApplyArgs overrides the jobs settings with the positional arguments
// <jobs_dir> <max_backups> <max_workers>. Missing trailing arguments keep
// their configured values.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("%w: expected at most 3 arguments, got %d", ErrInvalid, len(args))
	}

	if len(args) > 0 {
		c.Jobs.Dir = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: max backups %q is not a number", ErrInvalid, args[1])
		}
		c.Jobs.MaxBackups = n
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("%w: max workers %q is not a number", ErrInvalid, args[2])
		}
		c.Jobs.MaxWorkers = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Jobs.Dir == "" {
		return fmt.Errorf("%w: jobs directory is required", ErrInvalid)
	}
	if c.Jobs.MaxBackups < 1 {
		return fmt.Errorf("%w: max backups must be at least 1, got %d", ErrInvalid, c.Jobs.MaxBackups)
	}
	if c.Jobs.MaxWorkers < 1 {
		return fmt.Errorf("%w: max workers must be at least 1, got %d", ErrInvalid, c.Jobs.MaxWorkers)
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.MonitorInterval(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Jobs.PollInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: poll interval %q", ErrInvalid, c.Jobs.PollInterval)
	}
	return d, nil
}

func (c *Config) MonitorInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Monitor.Interval)
	if err != nil || d < time.Second {
		return 0, fmt.Errorf("%w: monitor interval %q must be at least 1s", ErrInvalid, c.Monitor.Interval)
	}
	return d, nil
}

func (c *Config) LogLevel() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, value)
	}
	return n, nil
}
