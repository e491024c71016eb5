// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads tuyastat settings from defaults, an optional YAML
// file, TUYASTAT_* environment variables and command line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TUYASTAT_LINK_PORT
const EnvPrefix = "TUYASTAT"

type Config struct {
	Link    LinkConfig    `mapstructure:"link"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
}

type LinkConfig struct {
	Port        string `mapstructure:"port"`
	Baud        int    `mapstructure:"baud"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
}

type EngineConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	QueryInterval     time.Duration `mapstructure:"query_interval"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	Version           uint8         `mapstructure:"version"`
}

type DriverConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	EnqueueTimeout       time.Duration `mapstructure:"enqueue_timeout"`
	WiFiQueueSize        int           `mapstructure:"wifi_queue_size"`
	DPQueueSize          int           `mapstructure:"dp_queue_size"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
}

type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	QoS      int    `mapstructure:"qos"`
}

// New returns a viper instance with defaults and environment binding applied
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("link.port", "")
	v.SetDefault("link.baud", 9600)
	v.SetDefault("link.url", "")
	v.SetDefault("link.username", "")
	v.SetDefault("link.no_ssl_verify", false)

	v.SetDefault("engine.heartbeat_interval", "1s")
	v.SetDefault("engine.query_interval", "5s")
	v.SetDefault("engine.keepalive_interval", "15s")
	v.SetDefault("engine.version", 0)

	v.SetDefault("driver.poll_interval", "50ms")
	v.SetDefault("driver.enqueue_timeout", "100ms")
	v.SetDefault("driver.wifi_queue_size", 4)
	v.SetDefault("driver.dp_queue_size", 8)
	v.SetDefault("driver.max_consecutive_errors", 10)
	v.SetDefault("driver.reconnect_delay", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 7)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.qos", 1)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional config file at path and unmarshals the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the driver cannot run with
func (c *Config) Validate() error {
	if c.Link.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Link.Baud)
	}
	if c.Driver.WiFiQueueSize <= 0 || c.Driver.DPQueueSize <= 0 {
		return fmt.Errorf("queue sizes must be positive (wifi=%d, dp=%d)", c.Driver.WiFiQueueSize, c.Driver.DPQueueSize)
	}
	if c.Driver.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Driver.PollInterval)
	}
	if c.Driver.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.Driver.ReconnectDelay)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid MQTT QoS %d", c.MQTT.QoS)
	}
	return nil
}

// LinkInfo describes the configured link for log output
func (l LinkConfig) LinkInfo() string {
	if l.URL != "" {
		return "WebSocket: " + l.URL
	}
	return fmt.Sprintf("Serial: %s @ %d baud", l.Port, l.Baud)
}
