package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decoy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.OpsListenAddr != "127.0.0.1:9090" {
		t.Errorf("Server.OpsListenAddr = %q, want 127.0.0.1:9090", cfg.Server.OpsListenAddr)
	}
	if cfg.Capture.MaxBodyBytes != 65536 {
		t.Errorf("Capture.MaxBodyBytes = %d, want 65536", cfg.Capture.MaxBodyBytes)
	}
	if cfg.Decoy.AuthDelayMin != 1500*time.Millisecond || cfg.Decoy.AuthDelayMax != 2500*time.Millisecond {
		t.Errorf("auth delay = [%s, %s], want [1.5s, 2.5s]", cfg.Decoy.AuthDelayMin, cfg.Decoy.AuthDelayMax)
	}
	if cfg.Database.Driver != "sqlite3" || cfg.Database.Synchronous != "FULL" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if !cfg.System.Rotation.Compress || cfg.System.Rotation.MaxSizeMB != 100 {
		t.Errorf("Rotation = %+v", cfg.System.Rotation)
	}
	if cfg.Logging.LogCredentials {
		t.Error("Logging.LogCredentials = true, want false")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9000"
  ops_listen_addr: ""
database:
  driver: sqlite
  path: /tmp/decoy-test.db
capture:
  max_body_bytes: 1024
decoy:
  auth_delay_min: 10ms
  auth_delay_max: 20ms
logging:
  format: json
  log_credentials: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("Server.ListenAddr = %q, want :9000", cfg.Server.ListenAddr)
	}
	if cfg.Server.OpsListenAddr != "" {
		t.Errorf("Server.OpsListenAddr = %q, want empty (disabled)", cfg.Server.OpsListenAddr)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/tmp/decoy-test.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Capture.MaxBodyBytes != 1024 {
		t.Errorf("Capture.MaxBodyBytes = %d, want 1024", cfg.Capture.MaxBodyBytes)
	}
	if cfg.Decoy.AuthDelayMax != 20*time.Millisecond {
		t.Errorf("Decoy.AuthDelayMax = %s, want 20ms", cfg.Decoy.AuthDelayMax)
	}
	if cfg.Logging.Format != "json" || !cfg.Logging.LogCredentials {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.MaxInFlight != 256 {
		t.Errorf("Server.MaxInFlight = %d, want 256", cfg.Server.MaxInFlight)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_addr: \":9000\"\n")
	t.Setenv("DECOY_SERVER__LISTEN_ADDR", ":7000")
	t.Setenv("DECOY_CAPTURE__MAX_BODY_BYTES", "2048")
	t.Setenv("DECOY_DECOY__SERVER_HEADER", "nginx/1.18.0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("Server.ListenAddr = %q, want :7000", cfg.Server.ListenAddr)
	}
	if cfg.Capture.MaxBodyBytes != 2048 {
		t.Errorf("Capture.MaxBodyBytes = %d, want 2048", cfg.Capture.MaxBodyBytes)
	}
	if cfg.Decoy.ServerHeader != "nginx/1.18.0" {
		t.Errorf("Decoy.ServerHeader = %q, want nginx/1.18.0", cfg.Decoy.ServerHeader)
	}
}

func TestLoad_ConfigFromEnvLocation(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "decoy:\n  server_header: \"lighttpd\"\n")
	t.Setenv("DECOY_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if cfg.Decoy.ServerHeader != "lighttpd" {
		t.Errorf("Decoy.ServerHeader = %q, want lighttpd", cfg.Decoy.ServerHeader)
	}
}

func TestLoad_ExpandsPaths(t *testing.T) {
	t.Setenv("DECOY_TEST_DATA", "/srv/decoy")
	path := writeConfig(t, "database:\n  path: ${DECOY_TEST_DATA}/capture.db\nsystem:\n  log_dir: ${DECOY_TEST_DATA}/logs\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/srv/decoy/capture.db" {
		t.Errorf("Database.Path = %q, want /srv/decoy/capture.db", cfg.Database.Path)
	}
	if cfg.System.LogDir != "/srv/decoy/logs" {
		t.Errorf("System.LogDir = %q, want /srv/decoy/logs", cfg.System.LogDir)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "bad driver", yaml: "database:\n  driver: postgres\n", wantErr: "database.driver"},
		{name: "inverted delay", yaml: "decoy:\n  auth_delay_min: 3s\n  auth_delay_max: 1s\n", wantErr: "auth delay"},
		{name: "zero body cap", yaml: "capture:\n  max_body_bytes: 0\n", wantErr: "max_body_bytes"},
		{name: "bad log format", yaml: "logging:\n  format: xml\n", wantErr: "logging.format"},
		{name: "bad alert severity", yaml: "alerts:\n  enabled: true\n  min_severity: low\n", wantErr: "alerts.min_severity"},
		{name: "bad webhook auth", yaml: "alerts:\n  enabled: true\n  webhook:\n    auth_type: digest\n", wantErr: "auth_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	cfg := &Config{System: SystemConfig{HomeDir: "/opt/decoy"}}
	tests := map[string]string{
		"./data/decoy.db": "/opt/decoy/data/decoy.db",
		"logs":            "/opt/decoy/logs",
		"/var/lib/d.db":   "/var/lib/d.db",
		"":                "",
	}
	for in, want := range tests {
		if got := cfg.ResolvePath(in); got != want {
			t.Errorf("ResolvePath(%q) = %q, want %q", in, got, want)
		}
	}

	cfg.System.HomeDir = "."
	if got := cfg.ResolvePath("./data/decoy.db"); got != "data/decoy.db" {
		t.Errorf("ResolvePath() with home . = %q", got)
	}
}

func TestLoad_Alerts(t *testing.T) {
	t.Setenv("DECOY_TEST_HOOK", "https://hooks.example.com/decoy")
	path := writeConfig(t, `
alerts:
  enabled: true
  min_severity: high
  webhook:
    url: ${DECOY_TEST_HOOK}
    auth_type: bearer
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Alerts.Webhook.URL != "https://hooks.example.com/decoy" {
		t.Errorf("Webhook.URL = %q", cfg.Alerts.Webhook.URL)
	}
	if cfg.Alerts.RetryCount != 3 || cfg.Alerts.QueueSize != 256 || cfg.Alerts.Timeout != 10*time.Second {
		t.Errorf("Alerts defaults = %+v", cfg.Alerts)
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "decoy.example.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Database.Synchronous != "FULL" {
		t.Errorf("example config = %+v", cfg)
	}
}
