package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshwired/linkctl/internal/config"
	"github.com/meshwired/linkctl/internal/peerlink"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":8080" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":8080")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestTuningConfigResolveOverridesOnlySetFields(t *testing.T) {
	t.Parallel()

	tc := config.TuningConfig{PingInterval: 2 * time.Second}
	resolved := tc.Resolve()
	want := peerlink.DefaultTuning()
	want.PingInterval = 2 * time.Second

	if resolved != want {
		t.Errorf("Resolve() = %+v, want %+v", resolved, want)
	}
}

func TestTuningConfigResolveAllZeroIsDefault(t *testing.T) {
	t.Parallel()

	var tc config.TuningConfig
	if got, want := tc.Resolve(), peerlink.DefaultTuning(); got != want {
		t.Errorf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestLinkConfigBeaconMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want peerlink.BeaconMode
	}{
		{"", peerlink.BeaconOff},
		{"off", peerlink.BeaconOff},
		{"Accept", peerlink.BeaconAccept},
		{"SEND", peerlink.BeaconSend},
	}
	for _, tt := range tests {
		lc := config.LinkConfig{Beacon: tt.in}
		got, err := lc.BeaconMode()
		if err != nil {
			t.Fatalf("BeaconMode(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("BeaconMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := (config.LinkConfig{Beacon: "bogus"}).BeaconMode(); !errors.Is(err, config.ErrInvalidBeaconMode) {
		t.Errorf("BeaconMode(bogus) error = %v, want %v", err, config.ErrInvalidBeaconMode)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":9090"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
links:
  - name: eth0
    kind: udp
    interface: eth0
    group: "ff02::1"
    port: 9999
    beacon: send
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9090" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9090")
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if len(cfg.Links) != 1 {
		t.Fatalf("Links count = %d, want 1", len(cfg.Links))
	}
	if cfg.Links[0].Name != "eth0" {
		t.Errorf("Links[0].Name = %q, want %q", cfg.Links[0].Name, "eth0")
	}
	if cfg.Links[0].Port != 9999 {
		t.Errorf("Links[0].Port = %d, want %d", cfg.Links[0].Port, 9999)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":55555" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":55555")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "empty link name",
			modify: func(cfg *config.Config) {
				cfg.Links = []config.LinkConfig{{Name: ""}}
			},
			wantErr: config.ErrEmptyLinkName,
		},
		{
			name: "duplicate link names",
			modify: func(cfg *config.Config) {
				cfg.Links = []config.LinkConfig{{Name: "eth0"}, {Name: "eth0"}}
			},
			wantErr: config.ErrDuplicateLinkName,
		},
		{
			name: "invalid link kind",
			modify: func(cfg *config.Config) {
				cfg.Links = []config.LinkConfig{{Name: "eth0", Kind: "carrier-pigeon"}}
			},
			wantErr: config.ErrInvalidLinkKind,
		},
		{
			name: "invalid beacon mode",
			modify: func(cfg *config.Config) {
				cfg.Links = []config.LinkConfig{{Name: "eth0", Beacon: "maybe"}}
			},
			wantErr: config.ErrInvalidBeaconMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
admin:
  addr: ":8080"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("LINKCTL_ADMIN_ADDR", ":9999")
	t.Setenv("LINKCTL_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9999" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":9999")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "linkctl.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
