// Package config loads the bridge configuration from a TOML file, a .env
// file and LEDBRIDGE_* environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

const envPrefix = "LEDBRIDGE_"

type Config struct {
	Bridge   Bridge               `toml:"bridge"`
	Device   Device               `toml:"device"`
	Transfer transfer.Config      `toml:"transfer"`
	Retry    transfer.RetryPolicy `toml:"retry"`
	Scan     Scan                 `toml:"scan"`
}

// Bridge configures the HTTP command surface.
type Bridge struct {
	Name     string `toml:"name"`
	Addr     string `toml:"addr"`
	Announce bool   `toml:"announce"`
}

// Device holds the GATT service and characteristic UUIDs as text.
type Device struct {
	Service   string `toml:"service"`
	Scene     string `toml:"scene"`
	Control   string `toml:"control"`
	State     string `toml:"state"`
	Time      string `toml:"time"`
	TimeTasks string `toml:"time_tasks"`
}

type Scan struct {
	Timeout time.Duration `toml:"timeout"`
}

func Default() *Config {
	p := led.DefaultProfile()
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ledbridge"
	}
	tc := transfer.DefaultConfig()
	tc.NotifyTimeout = 10 * time.Second
	tc.IOTimeout = 5 * time.Second
	return &Config{
		Bridge: Bridge{Name: host, Addr: ":8321", Announce: true},
		Device: Device{
			Service:   p.Service.String(),
			Scene:     p.Scene.String(),
			Control:   p.Control.String(),
			State:     p.State.String(),
			Time:      p.Time.String(),
			TimeTasks: p.TimeTasks.String(),
		},
		Transfer: *tc,
		Retry:    *transfer.DefaultRetryPolicy(),
		Scan:     Scan{Timeout: 5 * time.Second},
	}
}

// Load reads path over the defaults, then applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("NAME"); ok {
		c.Bridge.Name = v
	}
	if v, ok := lookup("ADDR"); ok {
		c.Bridge.Addr = v
	}
	if v, ok := lookup("ANNOUNCE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sANNOUNCE: %w", envPrefix, err)
		}
		c.Bridge.Announce = b
	}
	if v, ok := lookup("BYTE_ORDER"); ok {
		c.Transfer.ByteOrder = v
	}
	durations := map[string]*time.Duration{
		"NOTIFY_TIMEOUT": &c.Transfer.NotifyTimeout,
		"IO_TIMEOUT":     &c.Transfer.IOTimeout,
		"SCAN_TIMEOUT":   &c.Scan.Timeout,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}
	if v, ok := lookup("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_RETRIES: %w", envPrefix, err)
		}
		c.Retry.MaxRetries = n
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bridge.Addr) == "" {
		return errors.New("bridge.addr is required")
	}
	if _, err := c.Profile(); err != nil {
		return err
	}
	if c.Scan.Timeout <= 0 {
		return errors.New("scan.timeout must be positive")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.TransferConfig().Validate(); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

// Profile parses the device UUIDs.
func (c *Config) Profile() (led.Profile, error) {
	var p led.Profile
	fields := []struct {
		name string
		text string
		dst  *uuid.UUID
	}{
		{"service", c.Device.Service, &p.Service},
		{"scene", c.Device.Scene, &p.Scene},
		{"control", c.Device.Control, &p.Control},
		{"state", c.Device.State, &p.State},
		{"time", c.Device.Time, &p.Time},
		{"time_tasks", c.Device.TimeTasks, &p.TimeTasks},
	}
	for _, f := range fields {
		id, err := uuid.Parse(strings.TrimSpace(f.text))
		if err != nil {
			return led.Profile{}, fmt.Errorf("device.%s: %w", f.name, err)
		}
		*f.dst = id
	}
	if err := p.Validate(); err != nil {
		return led.Profile{}, fmt.Errorf("device: %w", err)
	}
	return p, nil
}

// TransferConfig returns the engine configuration with the retry policy
// attached.
func (c *Config) TransferConfig() *transfer.Config {
	tc := c.Transfer
	retry := c.Retry
	tc.DefaultRetryPolicy = &retry
	return &tc
}
