// Package config loads provider settings with precedence
// defaults < config file < DUBBO_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mini-dubbo/codec"
	"mini-dubbo/heartbeat"
	"mini-dubbo/retry"
)

const envPrefix = "dubbo"

type Config struct {
	Application   string `mapstructure:"application"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Serialization string `mapstructure:"serialization"`

	Heartbeat struct {
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"heartbeat"`

	Retry struct {
		Base     time.Duration `mapstructure:"base"`
		Max      time.Duration `mapstructure:"max"`
		Attempts int           `mapstructure:"attempts"`
	} `mapstructure:"retry"`

	Registry struct {
		Endpoints []string `mapstructure:"endpoints"`
		Root      string   `mapstructure:"root"`
		TTL       int64    `mapstructure:"ttl"`
	} `mapstructure:"registry"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

type Option struct {
	Key     string
	Default any
	Comment string
}

// Options lists every key with its default.
func Options() []Option {
	return []Option{
		{Key: "application", Default: "mini-dubbo-provider", Comment: "Application name published with every provider URL"},
		{Key: "host", Default: "", Comment: "Advertised host; empty picks the first non-loopback IPv4 address"},
		{Key: "port", Default: 0, Comment: "Listen port; 0 picks a random port in [20880, 30880) on every bind attempt"},
		{Key: "serialization", Default: "json", Comment: "Serialization for server-originated frames: json or protobuf"},

		{Key: "heartbeat.interval", Default: heartbeat.DefaultInterval, Comment: "Write-idle time before a heartbeat is sent"},
		{Key: "heartbeat.timeout", Default: 3 * heartbeat.DefaultInterval, Comment: "Read-idle time before the connection is closed"},

		{Key: "retry.base", Default: 500 * time.Millisecond, Comment: "First bind retry delay"},
		{Key: "retry.max", Default: 10 * time.Second, Comment: "Upper bound on the bind retry delay"},
		{Key: "retry.attempts", Default: 10, Comment: "Bind attempts before giving up"},

		{Key: "registry.endpoints", Default: []string{}, Comment: "etcd endpoints; empty disables publication"},
		{Key: "registry.root", Default: "dubbo", Comment: "Root path of provider keys"},
		{Key: "registry.ttl", Default: int64(10), Comment: "Lease TTL in seconds"},

		{Key: "log.level", Default: "info", Comment: "debug, info, warn or error"},
	}
}

// Load reads path (when not empty) on top of the defaults and applies the
// environment last. DUBBO_REGISTRY_ENDPOINTS accepts a comma-separated list.
func Load(path string) (*Config, error) {
	v := viper.New()
	for _, o := range Options() {
		v.SetDefault(o.Key, o.Default)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if _, err := codec.ParseType(c.Serialization); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("config: retry.attempts must be at least 1")
	}
	return nil
}

// SerializationType resolves the configured serialization name.
func (c *Config) SerializationType() codec.CodecType {
	t, _ := codec.ParseType(c.Serialization)
	return t
}

func (c *Config) HeartbeatConfig() heartbeat.Config {
	return heartbeat.Config{Interval: c.Heartbeat.Interval, Timeout: c.Heartbeat.Timeout}
}

func (c *Config) RetryPolicy() retry.Exponential {
	return retry.Exponential{Base: c.Retry.Base, Max: c.Retry.Max, MaxAttempts: c.Retry.Attempts}
}
