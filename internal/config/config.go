// Package config loads the service configuration with Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scenarios ScenariosConfig `mapstructure:"scenarios"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RuntimeConfig selects and tunes the container engine.
type RuntimeConfig struct {
	Driver      string        `mapstructure:"driver"` // docker or memory
	DockerHost  string        `mapstructure:"dockerHost"`
	WorkDir     string        `mapstructure:"workDir"`
	NetworkMode string        `mapstructure:"networkMode"`
	StopTimeout time.Duration `mapstructure:"stopTimeout"`
	LogTimeout  time.Duration `mapstructure:"logTimeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory or redis
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"keyPrefix"`
}

type ScenariosConfig struct {
	Dir             string `mapstructure:"dir"`
	GitURL          string `mapstructure:"gitURL"`
	GitRef          string `mapstructure:"gitRef"`
	RefreshSchedule string `mapstructure:"refreshSchedule"`
}

type CleanupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"maxAge"`
}

type ReconcileConfig struct {
	Schedule string `mapstructure:"schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("runtime.driver", "docker")
	v.SetDefault("runtime.dockerHost", "")
	v.SetDefault("runtime.workDir", "/workmate")
	v.SetDefault("runtime.networkMode", "")
	v.SetDefault("runtime.stopTimeout", 10*time.Second)
	v.SetDefault("runtime.logTimeout", 15*time.Second)

	v.SetDefault("store.driver", "memory")

	v.SetDefault("redis.address", "redis:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "")

	v.SetDefault("scenarios.dir", "scenarios")
	v.SetDefault("scenarios.gitURL", "")
	v.SetDefault("scenarios.gitRef", "")
	v.SetDefault("scenarios.refreshSchedule", "")

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.schedule", "0 0 * * *")
	v.SetDefault("cleanup.maxAge", 24*time.Hour)

	v.SetDefault("reconcile.schedule", "@every 30s")
}

// Load reads defaults, the optional config file and LIGHTHOUSE_* environment
// variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("LIGHTHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Runtime.Driver {
	case "docker", "memory":
	default:
		errs = append(errs, fmt.Errorf("runtime.driver must be docker or memory, got %q", c.Runtime.Driver))
	}
	switch c.Store.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory or redis, got %q", c.Store.Driver))
	}
	if c.Store.Driver == "redis" && c.Redis.Address == "" {
		errs = append(errs, errors.New("redis.address is required when store.driver is redis"))
	}
	if c.Cleanup.Enabled && c.Cleanup.MaxAge <= 0 {
		errs = append(errs, errors.New("cleanup.maxAge must be positive"))
	}
	if c.Runtime.LogTimeout <= 0 {
		errs = append(errs, errors.New("runtime.logTimeout must be positive"))
	}
	return errors.Join(errs...)
}
