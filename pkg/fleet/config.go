// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fleet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v2"

	"github.com/Thermoquad/panelsim/pkg/panelproto"
	"github.com/Thermoquad/panelsim/pkg/scheduler"
)

// Transport kinds
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
	TransportSerial    = "serial"
)

// Environment overrides
const (
	EnvServer   = "PANELSIM_SERVER"
	EnvPort     = "PANELSIM_PORT"
	EnvPassword = "PANELSIM_PASSWORD"
)

const maxLamps = 4096

// Config describes a fleet of emulated panels
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Intervals IntervalsConfig `yaml:"intervals"`
	AutoRegen bool            `yaml:"auto_regen"`
	Lamps     LampsConfig     `yaml:"lamps"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

type ServerConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	Transport  string `yaml:"transport"`
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"-"`
	Insecure   bool   `yaml:"insecure"`
	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`
}

type IntervalsConfig struct {
	Connect        Duration `yaml:"connect"`
	DisconnectFrom Duration `yaml:"disconnect_from"`
	DisconnectTo   Duration `yaml:"disconnect_to"`
	SendStatus     Duration `yaml:"send_status"`
	ChangeState    Duration `yaml:"change_state"`
}

type LampsConfig struct {
	Count  int    `yaml:"count"`
	Level  uint8  `yaml:"level"`
	Status uint32 `yaml:"status"`
}

type DeviceConfig struct {
	Phone string       `yaml:"phone"`
	Name  string       `yaml:"name"`
	Files []FileConfig `yaml:"files"`
}

type FileConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "2m")
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// DefaultConfig returns the settings used when a file leaves a field out
func DefaultConfig() *Config {
	iv := scheduler.DefaultIntervals()
	return &Config{
		Server: ServerConfig{
			Address:   "127.0.0.1",
			Port:      5000,
			Transport: TransportTCP,
			Baud:      115200,
		},
		Intervals: IntervalsConfig{
			Connect:        Duration(iv.Connect),
			DisconnectFrom: Duration(iv.DisconnectFrom),
			DisconnectTo:   Duration(iv.DisconnectTo),
			SendStatus:     Duration(iv.SendStatus),
			ChangeState:    Duration(iv.ChangeState),
		},
		AutoRegen: true,
		Lamps: LampsConfig{
			Count: 10,
			Level: 100,
		},
	}
}

// LoadConfig reads a YAML fleet file, or a legacy roster when the file ends in .ini
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		return ParseLegacyINI(f, logger)
	}
	return ParseConfig(f)
}

// ParseConfig decodes a YAML fleet file over the defaults
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ParseLegacyINI reads the Windows-1251 roster used by the desktop emulator:
//
//	#GPRSSETTINGS
//	{
//	ip="10.0.0.1"
//	port="5000"
//	}
//	#SETDEVICE
//	{
//	phone="+79990001122"
//	name="Cabinet 1"
//	}
//
// Devices with a phone already seen are logged and skipped.
func ParseLegacyINI(r io.Reader, logger *zap.SugaredLogger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg := DefaultConfig()
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(charmap.Windows1251.NewDecoder().Reader(r))
	section := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "#"):
			section = line[1:]

		case strings.HasPrefix(line, "{"):
			switch section {
			case "GPRSSETTINGS":
				values := parseINIBlock(scanner, "ip", "port")
				if ip := values["ip"]; ip != "" {
					cfg.Server.Address = ip
				}
				if p := values["port"]; p != "" {
					port, err := strconv.Atoi(p)
					if err != nil {
						return nil, fmt.Errorf("invalid port %q: %w", p, err)
					}
					cfg.Server.Port = port
				}

			case "SETDEVICE":
				values := parseINIBlock(scanner, "phone", "name")
				phone := values["phone"]
				if seen[phone] {
					logger.Infow("device already exists", "phone", phone)
					continue
				}
				seen[phone] = true
				cfg.Devices = append(cfg.Devices, DeviceConfig{Phone: phone, Name: values["name"]})

			default:
				parseINIBlock(scanner)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return cfg, nil
}

// parseINIBlock collects key="value" lines until the closing brace
func parseINIBlock(scanner *bufio.Scanner, keys ...string) map[string]string {
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "}") {
			break
		}
		for _, key := range keys {
			if rest, ok := strings.CutPrefix(line, key+"="); ok {
				values[key] = strings.Trim(rest, `"`)
				break
			}
		}
	}
	return values
}

// ApplyEnv overrides server settings from the environment
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvServer); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Server.Password = v
	}
	return nil
}

// Validate checks ranges and required fields
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Transport {
	case TransportTCP:
		if c.Server.Address == "" {
			errs = append(errs, errors.New("server.address is required"))
		}
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
		}
	case TransportWebSocket:
		if c.Server.URL == "" {
			errs = append(errs, errors.New("server.url is required for websocket transport"))
		}
	case TransportSerial:
		if c.Server.SerialPort == "" {
			errs = append(errs, errors.New("server.serial_port is required for serial transport"))
		}
		if c.Server.Baud <= 0 {
			errs = append(errs, fmt.Errorf("server.baud %d must be positive", c.Server.Baud))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Server.Transport))
	}

	iv := c.Intervals
	for name, d := range map[string]Duration{
		"connect":         iv.Connect,
		"disconnect_from": iv.DisconnectFrom,
		"disconnect_to":   iv.DisconnectTo,
		"send_status":     iv.SendStatus,
		"change_state":    iv.ChangeState,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("intervals.%s must not be negative", name))
		}
	}
	if iv.DisconnectTo > 0 && iv.DisconnectTo < iv.DisconnectFrom {
		errs = append(errs, errors.New("intervals.disconnect_to must not be less than disconnect_from"))
	}

	if c.Lamps.Count < 0 || c.Lamps.Count > maxLamps {
		errs = append(errs, fmt.Errorf("lamps.count %d out of range (0-%d)", c.Lamps.Count, maxLamps))
	}
	if c.Lamps.Level > 100 {
		errs = append(errs, fmt.Errorf("lamps.level %d exceeds 100%%", c.Lamps.Level))
	}

	for i, d := range c.Devices {
		if d.Phone == "" {
			errs = append(errs, fmt.Errorf("devices[%d].phone is required", i))
		}
		if len(d.Phone) > panelproto.PhoneWidth {
			errs = append(errs, fmt.Errorf("devices[%d].phone %q longer than %d bytes", i, d.Phone, panelproto.PhoneWidth))
		}
		for j, f := range d.Files {
			if f.Name == "" || len(f.Name) > panelproto.FileNameWidth {
				errs = append(errs, fmt.Errorf("devices[%d].files[%d].name %q must be 1-%d bytes", i, j, f.Name, panelproto.FileNameWidth))
			}
		}
	}

	return errors.Join(errs...)
}

// SchedulerIntervals converts the configured intervals
func (c *Config) SchedulerIntervals() scheduler.Intervals {
	return scheduler.Intervals{
		Connect:        time.Duration(c.Intervals.Connect),
		DisconnectFrom: time.Duration(c.Intervals.DisconnectFrom),
		DisconnectTo:   time.Duration(c.Intervals.DisconnectTo),
		SendStatus:     time.Duration(c.Intervals.SendStatus),
		ChangeState:    time.Duration(c.Intervals.ChangeState),
	}
}

// ServerAddress returns host:port for TCP
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}
