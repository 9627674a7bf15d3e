// Package config loads, validates and watches the bridge's YAML
// configuration file.
//
// A file may set any subset of sections; missing fields keep their
// defaults. The keys section, when present, replaces the default (empty)
// binding table as a whole.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// AppDirName is the per-user directory that holds the config file.
const AppDirName = "camel-pad"

// Config is an immutable snapshot of the configuration file.
type Config struct {
	Device   DeviceConfig                               `yaml:"device"`
	Server   ServerConfig                               `yaml:"server"`
	Gestures GesturesConfig                             `yaml:"gestures"`
	Keys     map[string]map[string]domain.ActionBinding `yaml:"keys"`
	Defaults DefaultsConfig                             `yaml:"defaults"`
}

// DeviceConfig identifies the pad by USB vendor/product id.
type DeviceConfig struct {
	VendorID  int `yaml:"vendorId"`
	ProductID int `yaml:"productId"`
}

// ServerConfig is the WebSocket listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GesturesConfig holds the classification windows in milliseconds.
type GesturesConfig struct {
	LongPressMs   int `yaml:"longPressMs"`
	DoublePressMs int `yaml:"doublePressMs"`
}

// DefaultsConfig applies to prompts that do not override it.
type DefaultsConfig struct {
	// TimeoutMs of zero means prompts wait forever.
	TimeoutMs int `yaml:"timeoutMs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			VendorID:  0x1234,
			ProductID: 0x5678,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 52914,
		},
		Gestures: GesturesConfig{
			LongPressMs:   500,
			DoublePressMs: 300,
		},
		Keys: map[string]map[string]domain.ActionBinding{},
		Defaults: DefaultsConfig{
			TimeoutMs: 30000,
		},
	}
}

// Load reads path and merges it over Default. A missing file yields the
// defaults with found=false. The result is not validated.
func Load(path string) (cfg *Config, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), false, nil
		}
		return nil, false, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err = Parse(data)
	if err != nil {
		return nil, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Keys = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Keys == nil {
		cfg.Keys = map[string]map[string]domain.ActionBinding{}
	}
	return cfg, nil
}

// Validate returns nil or an error wrapping ErrInvalid that joins one
// error per problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Device.VendorID <= 0 || c.Device.VendorID > 0xFFFF {
		add("device.vendorId must be between 0x0001 and 0xffff")
	}
	if c.Device.ProductID <= 0 || c.Device.ProductID > 0xFFFF {
		add("device.productId must be between 0x0001 and 0xffff")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		add("server.host must not be empty")
	}
	if c.Gestures.LongPressMs <= 0 {
		add("gestures.longPressMs must be positive")
	}
	if c.Gestures.DoublePressMs <= 0 {
		add("gestures.doublePressMs must be positive")
	}
	if c.Defaults.TimeoutMs < 0 {
		add("defaults.timeoutMs must not be negative")
	}

	keys := make([]string, 0, len(c.Keys))
	for k := range c.Keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		gestures := make([]string, 0, len(c.Keys[key]))
		for g := range c.Keys[key] {
			gestures = append(gestures, g)
		}
		sort.Strings(gestures)
		for _, g := range gestures {
			if !domain.Gesture(g).Valid() {
				add("keys.%s.%s: unknown gesture (want press, doublePress or longPress)", key, g)
				continue
			}
			if c.Keys[key][g].Action == "" {
				add("keys.%s.%s.action must not be empty", key, g)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Problems flattens a Validate error into one message per problem.
func Problems(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if inner == ErrInvalid {
					continue
				}
				walk(inner)
			}
			return
		}
		out = append(out, e.Error())
	}
	walk(err)
	return out
}

// VendorID returns device.vendorId as a USB id.
func (c *Config) VendorID() uint16 { return uint16(c.Device.VendorID) }

// ProductID returns device.productId as a USB id.
func (c *Config) ProductID() uint16 { return uint16(c.Device.ProductID) }

// LongPress returns gestures.longPressMs as a duration.
func (c *Config) LongPress() time.Duration {
	return time.Duration(c.Gestures.LongPressMs) * time.Millisecond
}

// DoublePress returns gestures.doublePressMs as a duration.
func (c *Config) DoublePress() time.Duration {
	return time.Duration(c.Gestures.DoublePressMs) * time.Millisecond
}

// DefaultTimeout returns defaults.timeoutMs as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Defaults.TimeoutMs) * time.Millisecond
}

// Endpoint returns the WebSocket URL clients connect to.
func (c *Config) Endpoint() string {
	return fmt.Sprintf("ws://%s/", c.ListenAddr())
}

// ListenAddr returns host:port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Bindings converts the keys section. Unknown gesture names are skipped;
// Validate reports them.
func (c *Config) Bindings() domain.KeyBindings {
	out := make(domain.KeyBindings, len(c.Keys))
	for key, gestures := range c.Keys {
		var m domain.KeyMapping
		for name, b := range gestures {
			b := b
			switch domain.Gesture(name) {
			case domain.GesturePress:
				m.Press = &b
			case domain.GestureDoublePress:
				m.DoublePress = &b
			case domain.GestureLongPress:
				m.LongPress = &b
			}
		}
		out[domain.InputID(key)] = m
	}
	return out
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return pathFor(runtime.GOOS, home, os.Getenv("APPDATA")), nil
}

func pathFor(goos, home, appData string) string {
	var base string
	switch goos {
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support", AppDirName)
	case "windows":
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		base = filepath.Join(appData, AppDirName)
	default:
		base = filepath.Join(home, ".config", AppDirName)
	}
	return filepath.Join(base, "config.yaml")
}
