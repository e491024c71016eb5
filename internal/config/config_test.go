// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	require.Equal(t, 9600, cfg.Link.Baud)
	require.Equal(t, time.Second, cfg.Engine.HeartbeatInterval)
	require.Equal(t, 5*time.Second, cfg.Engine.QueryInterval)
	require.Equal(t, 15*time.Second, cfg.Engine.KeepaliveInterval)
	require.Equal(t, 50*time.Millisecond, cfg.Driver.PollInterval)
	require.Equal(t, 100*time.Millisecond, cfg.Driver.EnqueueTimeout)
	require.Equal(t, 4, cfg.Driver.WiFiQueueSize)
	require.Equal(t, 8, cfg.Driver.DPQueueSize)
	require.Equal(t, 10, cfg.Driver.MaxConsecutiveErrors)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 1, cfg.MQTT.QoS)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuyastat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
link:
  port: /dev/ttyS1
  baud: 115200
engine:
  heartbeat_interval: 500ms
driver:
  dp_queue_size: 16
mqtt:
  broker: tcp://localhost:1883/tuya/
`), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	require.Equal(t, "/dev/ttyS1", cfg.Link.Port)
	require.Equal(t, 115200, cfg.Link.Baud)
	require.Equal(t, 500*time.Millisecond, cfg.Engine.HeartbeatInterval)
	require.Equal(t, 16, cfg.Driver.DPQueueSize)
	require.Equal(t, 4, cfg.Driver.WiFiQueueSize)
	require.Equal(t, "tcp://localhost:1883/tuya/", cfg.MQTT.Broker)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TUYASTAT_LINK_PORT", "/dev/ttyACM0")
	t.Setenv("TUYASTAT_DRIVER_POLL_INTERVAL", "20ms")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Link.Port)
	require.Equal(t, 20*time.Millisecond, cfg.Driver.PollInterval)
}

func TestLoad_FlagsOverride(t *testing.T) {
	t.Setenv("TUYASTAT_LINK_BAUD", "19200")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("baud", 9600, "")
	require.NoError(t, fs.Parse([]string{"--baud", "57600"}))

	v := New()
	require.NoError(t, v.BindPFlag("link.baud", fs.Lookup("baud")))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	require.Equal(t, 57600, cfg.Link.Baud)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	bad := *cfg
	bad.Link.Baud = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Driver.DPQueueSize = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Driver.ReconnectDelay = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.MQTT.QoS = 3
	require.Error(t, bad.Validate())
}

func TestLinkInfo(t *testing.T) {
	require.Equal(t, "Serial: /dev/ttyUSB0 @ 9600 baud", LinkConfig{Port: "/dev/ttyUSB0", Baud: 9600}.LinkInfo())
	require.Equal(t, "WebSocket: ws://bridge/uart", LinkConfig{URL: "ws://bridge/uart"}.LinkInfo())
}
