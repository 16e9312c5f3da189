// Package config manages linkctld daemon configuration using koanf/v2.
//
// Supports YAML files and LINKCTL_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/meshwired/linkctl/internal/peerlink"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete linkctld configuration.
type Config struct {
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Tuning  TuningConfig  `koanf:"tuning"`
	Links   []LinkConfig  `koanf:"links"`
}

// AdminConfig holds the plain HTTP admin API listen configuration.
type AdminConfig struct {
	// Addr is the admin API listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// TuningConfig overrides the controller's default timing constants. A
// zero duration means "use the reference default" (see Resolve).
type TuningConfig struct {
	UnresponsiveAfter time.Duration `koanf:"unresponsive_after"`
	PingAfter         time.Duration `koanf:"ping_after"`
	PingInterval      time.Duration `koanf:"ping_interval"`
	PingTimeout       time.Duration `koanf:"ping_timeout"`
	ForgetAfter       time.Duration `koanf:"forget_after"`
	BeaconInterval    time.Duration `koanf:"beacon_interval"`
}

// Resolve overlays t on top of the reference defaults, field by field.
func (t TuningConfig) Resolve() peerlink.Tuning {
	d := peerlink.DefaultTuning()

	tuning := d
	if t.UnresponsiveAfter > 0 {
		tuning.UnresponsiveAfter = t.UnresponsiveAfter
	}
	if t.PingAfter > 0 {
		tuning.PingAfter = t.PingAfter
	}
	if t.PingInterval > 0 {
		tuning.PingInterval = t.PingInterval
	}
	if t.PingTimeout > 0 {
		tuning.PingTimeout = t.PingTimeout
	}
	if t.ForgetAfter > 0 {
		tuning.ForgetAfter = t.ForgetAfter
	}
	if t.BeaconInterval > 0 {
		tuning.BeaconInterval = t.BeaconInterval
	}
	return tuning
}

// LinkConfig describes one link-layer transport to register on startup.
type LinkConfig struct {
	// Name is the link's human-readable identifier.
	Name string `koanf:"name"`

	// Kind selects the transport: "udp" for IPv4 multicast, "mem" for an
	// in-process fake useful only for local experimentation.
	Kind string `koanf:"kind"`

	// Interface is the network interface name (udp only).
	Interface string `koanf:"interface"`

	// Group is the multicast group address (udp only).
	Group string `koanf:"group"`

	// Port is the UDP port (udp only).
	Port int `koanf:"port"`

	// Beacon is the link's beacon posture: "off", "accept", or "send".
	Beacon string `koanf:"beacon"`
}

// BeaconMode maps the configured beacon string to a peerlink.BeaconMode.
func (l LinkConfig) BeaconMode() (peerlink.BeaconMode, error) {
	switch strings.ToLower(l.Beacon) {
	case "", "off":
		return peerlink.BeaconOff, nil
	case "accept":
		return peerlink.BeaconAccept, nil
	case "send":
		return peerlink.BeaconSend, nil
	default:
		return 0, fmt.Errorf("links: %w: %q", ErrInvalidBeaconMode, l.Beacon)
	}
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for linkctld configuration.
// Variables are named LINKCTL_<section>_<key>, e.g. LINKCTL_ADMIN_ADDR.
const envPrefix = "LINKCTL_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (LINKCTL_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms LINKCTL_ADMIN_ADDR -> admin.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":   defaults.Admin.Addr,
		"metrics.addr": defaults.Metrics.Addr,
		"metrics.path": defaults.Metrics.Path,
		"log.level":    defaults.Log.Level,
		"log.format":   defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin API listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidBeaconMode indicates a link's beacon mode string is
	// unrecognized.
	ErrInvalidBeaconMode = errors.New("beacon mode must be off, accept, or send")

	// ErrInvalidLinkKind indicates a link's kind string is unrecognized.
	ErrInvalidLinkKind = errors.New("link kind must be udp or mem")

	// ErrEmptyLinkName indicates a link entry has no name.
	ErrEmptyLinkName = errors.New("link name must not be empty")

	// ErrDuplicateLinkName indicates two links share the same name.
	ErrDuplicateLinkName = errors.New("duplicate link name")
)

// ValidLinkKinds lists the recognized link transport kinds.
var ValidLinkKinds = map[string]bool{
	"udp": true,
	"mem": true,
}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	return validateLinks(cfg.Links)
}

func validateLinks(links []LinkConfig) error {
	seen := make(map[string]struct{}, len(links))

	for i, l := range links {
		if l.Name == "" {
			return fmt.Errorf("links[%d]: %w", i, ErrEmptyLinkName)
		}
		if _, dup := seen[l.Name]; dup {
			return fmt.Errorf("links[%d] name %q: %w", i, l.Name, ErrDuplicateLinkName)
		}
		seen[l.Name] = struct{}{}

		kind := strings.ToLower(l.Kind)
		if kind != "" && !ValidLinkKinds[kind] {
			return fmt.Errorf("links[%d] kind %q: %w", i, l.Kind, ErrInvalidLinkKind)
		}

		if _, err := l.BeaconMode(); err != nil {
			return fmt.Errorf("links[%d]: %w", i, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
