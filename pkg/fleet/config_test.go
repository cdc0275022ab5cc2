// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fleet

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const sampleYAML = `
server:
  address: 10.1.2.3
  port: 6000
intervals:
  connect: 5s
  disconnect_from: 1m
  disconnect_to: 2m
  send_status: 20s
  change_state: 0s
auto_regen: false
lamps:
  count: 3
  level: 50
devices:
  - phone: "+79990000001"
    name: North
    files:
      - name: INFO.DAT
        path: /tmp/info.dat
  - phone: "+79990000002"
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "10.1.2.3", cfg.Server.Address)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, TransportTCP, cfg.Server.Transport, "default transport kept")
	assert.False(t, cfg.AutoRegen)
	assert.Equal(t, 3, cfg.Lamps.Count)
	assert.EqualValues(t, 50, cfg.Lamps.Level)

	iv := cfg.SchedulerIntervals()
	assert.Equal(t, 5*time.Second, iv.Connect)
	assert.Equal(t, time.Minute, iv.DisconnectFrom)
	assert.Equal(t, 2*time.Minute, iv.DisconnectTo)
	assert.Equal(t, 20*time.Second, iv.SendStatus)
	assert.Zero(t, iv.ChangeState)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "North", cfg.Devices[0].Name)
	require.Len(t, cfg.Devices[0].Files, 1)
	assert.Equal(t, "INFO.DAT", cfg.Devices[0].Files[0].Name)
	assert.Equal(t, "10.1.2.3:6000", cfg.ServerAddress())
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig_BadDuration(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("intervals:\n  connect: soon\n"))
	assert.Error(t, err)
}

func encode1251(t *testing.T, s string) []byte {
	t.Helper()
	out, err := charmap.Windows1251.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return out
}

const sampleINI = `#GPRSSETTINGS
{
ip="192.168.0.10"
port="7001"
}
#SETDEVICE
{
phone="+79990000001"
name="Шкаф 1"
}
#SETDEVICE
{
phone="+79990000002"
name="Шкаф 2"
}
#SETDEVICE
{
phone="+79990000001"
name="Duplicate"
}
#OTHER
{
key="ignored"
}
`

func TestParseLegacyINI(t *testing.T) {
	cfg, err := ParseLegacyINI(bytes.NewReader(encode1251(t, sampleINI)), nil)
	require.NoError(t, err)

	assert.Equal(t, "192.168.0.10", cfg.Server.Address)
	assert.Equal(t, 7001, cfg.Server.Port)
	require.Len(t, cfg.Devices, 2, "duplicate phone skipped")
	assert.Equal(t, "+79990000001", cfg.Devices[0].Phone)
	assert.Equal(t, "Шкаф 1", cfg.Devices[0].Name)
	assert.Equal(t, "+79990000002", cfg.Devices[1].Phone)
}

func TestParseLegacyINI_BadPort(t *testing.T) {
	in := "#GPRSSETTINGS\n{\nport=\"x\"\n}\n"
	_, err := ParseLegacyINI(strings.NewReader(in), nil)
	assert.Error(t, err)
}

func TestLoadConfig_ByExtension(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(sampleYAML), 0o644))
	cfg, err := LoadConfig(yamlPath, nil)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 2)

	iniPath := filepath.Join(dir, "devices.INI")
	require.NoError(t, os.WriteFile(iniPath, encode1251(t, sampleINI), 0o644))
	cfg, err = LoadConfig(iniPath, nil)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 2)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvServer, "example.net")
	t.Setenv(EnvPort, "7777")
	t.Setenv(EnvPassword, "secret")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "example.net", cfg.Server.Address)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.Password)

	t.Setenv(EnvPort, "nope")
	assert.Error(t, cfg.ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"unknown transport", func(c *Config) { c.Server.Transport = "carrier-pigeon" }, "unknown transport"},
		{"websocket without url", func(c *Config) { c.Server.Transport = TransportWebSocket }, "server.url"},
		{"serial without port", func(c *Config) { c.Server.Transport = TransportSerial }, "server.serial_port"},
		{"negative interval", func(c *Config) { c.Intervals.Connect = Duration(-time.Second) }, "intervals.connect"},
		{"inverted window", func(c *Config) {
			c.Intervals.DisconnectFrom = Duration(time.Minute)
			c.Intervals.DisconnectTo = Duration(time.Second)
		}, "disconnect_to"},
		{"too many lamps", func(c *Config) { c.Lamps.Count = maxLamps + 1 }, "lamps.count"},
		{"level over 100", func(c *Config) { c.Lamps.Level = 101 }, "lamps.level"},
		{"missing phone", func(c *Config) { c.Devices = []DeviceConfig{{}} }, "devices[0].phone"},
		{"long phone", func(c *Config) {
			c.Devices = []DeviceConfig{{Phone: strings.Repeat("9", 40)}}
		}, "longer than"},
		{"bad file name", func(c *Config) {
			c.Devices = []DeviceConfig{{Phone: "1", Files: []FileConfig{{Path: "x"}}}}
		}, "files[0].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_ZeroDisconnectWindowAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Intervals.DisconnectFrom = Duration(time.Minute)
	cfg.Intervals.DisconnectTo = 0
	assert.NoError(t, cfg.Validate())
}
