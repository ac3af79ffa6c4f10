package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides: DECOY_SERVER__LISTEN_ADDR sets
// server.listen_addr.
const EnvPrefix = "DECOY_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Capture   CaptureConfig   `koanf:"capture"`
	Decoy     DecoyConfig     `koanf:"decoy"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	System    SystemConfig    `koanf:"system"`

	// Source is the file the config was read from, empty when none was found.
	Source string `koanf:"-"`
}

type ServerConfig struct {
	ListenAddr string `koanf:"listen_addr"`
	// OpsListenAddr serves the JSON API and /metrics. Empty disables it.
	OpsListenAddr string `koanf:"ops_listen_addr"`
	// OpsAPIKey, when set, is required in the X-API-Key header of ops API calls.
	OpsAPIKey         string        `koanf:"ops_api_key"`
	MaxInFlight       int           `koanf:"max_in_flight"`
	Backlog           int           `koanf:"backlog"`
	BacklogTimeout    time.Duration `koanf:"backlog_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	MaxHeaderBytes    int           `koanf:"max_header_bytes"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver"` // "sqlite3" (mattn, cgo) or "sqlite" (modernc)
	Path        string        `koanf:"path"`
	JournalMode string        `koanf:"journal_mode"`
	Synchronous string        `koanf:"synchronous"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

type CaptureConfig struct {
	MaxBodyBytes  int64         `koanf:"max_body_bytes"`
	AppendTimeout time.Duration `koanf:"append_timeout"`
}

type DecoyConfig struct {
	AuthDelayMin  time.Duration `koanf:"auth_delay_min"`
	AuthDelayMax  time.Duration `koanf:"auth_delay_max"`
	ServerHeader  string        `koanf:"server_header"`
	LogsViewLimit int           `koanf:"logs_view_limit"`
}

type LoggingConfig struct {
	Level          string `koanf:"level"`
	Format         string `koanf:"format"` // "text" or "json"
	File           string `koanf:"file"`
	LogCredentials bool   `koanf:"log_credentials"`
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
	TraceFile   string `koanf:"trace_file"`
}

// AlertsConfig controls operator notifications for interactions whose attack
// signals reach MinSeverity.
type AlertsConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MinSeverity string        `koanf:"min_severity"` // critical, high or medium
	QueueSize   int           `koanf:"queue_size"`
	Timeout     time.Duration `koanf:"timeout"`
	RetryCount  int           `koanf:"retry_count"`
	RetryDelay  time.Duration `koanf:"retry_delay"`
	Webhook     WebhookConfig `koanf:"webhook"`
	Slack       SlackConfig   `koanf:"slack"`
}

type WebhookConfig struct {
	URL       string `koanf:"url"`
	AuthType  string `koanf:"auth_type"` // bearer, apikey, basic or empty
	AuthValue string `koanf:"auth_value"`
}

type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url"`
}

type SystemConfig struct {
	HomeDir  string         `koanf:"home_dir"`
	LogDir   string         `koanf:"log_dir"`
	Rotation RotationConfig `koanf:"rotation"`
}

type RotationConfig struct {
	MaxSizeMB  int  `koanf:"max_size_mb"`
	MaxBackups int  `koanf:"max_backups"`
	MaxAgeDays int  `koanf:"max_age_days"`
	Compress   bool `koanf:"compress"`
}

// defaults apply to every key the file and environment leave unset.
var defaults = map[string]any{
	"server.listen_addr":         ":8080",
	"server.ops_listen_addr":     "127.0.0.1:9090",
	"server.ops_api_key":         "",
	"server.max_in_flight":       256,
	"server.backlog":             1024,
	"server.backlog_timeout":     "10s",
	"server.request_timeout":     "30s",
	"server.read_timeout":        "15s",
	"server.read_header_timeout": "5s",
	"server.write_timeout":       "30s",
	"server.idle_timeout":        "60s",
	"server.shutdown_timeout":    "15s",
	"server.max_header_bytes":    64 * 1024,

	"database.driver":       "sqlite3",
	"database.path":         "./data/decoy.db",
	"database.journal_mode": "WAL",
	"database.synchronous":  "FULL",
	"database.busy_timeout": "5s",

	"capture.max_body_bytes": 64 * 1024,
	"capture.append_timeout": "5s",

	"decoy.auth_delay_min":  "1500ms",
	"decoy.auth_delay_max":  "2500ms",
	"decoy.server_header":   "Apache/2.4.41 (Ubuntu)",
	"decoy.logs_view_limit": 100,

	"logging.level":           "info",
	"logging.format":          "text",
	"logging.file":            "decoy.log",
	"logging.log_credentials": false,

	"telemetry.tracing":      false,
	"telemetry.service_name": "decoy",
	"telemetry.trace_file":   "traces.jsonl",

	"alerts.enabled":      false,
	"alerts.min_severity": "critical",
	"alerts.queue_size":   256,
	"alerts.timeout":      "10s",
	"alerts.retry_count":  3,
	"alerts.retry_delay":  "2s",

	"system.home_dir":              ".",
	"system.log_dir":               "./logs",
	"system.rotation.max_size_mb":  100,
	"system.rotation.max_backups":  5,
	"system.rotation.max_age_days": 30,
	"system.rotation.compress":     true,
}

// Load reads configuration from configPath, or the first of the standard
// locations that exists, then applies DECOY_ environment overrides and
// defaults. A missing file is not an error unless configPath names it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	source := ""
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		source = configPath
	} else {
		locations := []string{
			"./config/decoy.yaml",
			"./config/decoy.yml",
			"/etc/decoy/config.yaml",
			os.Getenv(EnvPrefix + "CONFIG"),
		}
		for _, loc := range locations {
			if loc == "" {
				continue
			}
			err := k.Load(file.Provider(loc), yaml.Parser())
			if err == nil {
				source = loc
				break
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file %s: %w", loc, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.Source = source
	expandEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func applyDefaults(k *koanf.Koanf) {
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// expandEnvVars replaces ${VAR_NAME} in paths and secrets.
func expandEnvVars(cfg *Config) {
	cfg.Server.OpsAPIKey = os.ExpandEnv(cfg.Server.OpsAPIKey)
	cfg.Database.Path = os.ExpandEnv(cfg.Database.Path)
	cfg.System.HomeDir = os.ExpandEnv(cfg.System.HomeDir)
	cfg.System.LogDir = os.ExpandEnv(cfg.System.LogDir)
	cfg.Telemetry.TraceFile = os.ExpandEnv(cfg.Telemetry.TraceFile)
	cfg.Alerts.Webhook.URL = os.ExpandEnv(cfg.Alerts.Webhook.URL)
	cfg.Alerts.Webhook.AuthValue = os.ExpandEnv(cfg.Alerts.Webhook.AuthValue)
	cfg.Alerts.Slack.WebhookURL = os.ExpandEnv(cfg.Alerts.Slack.WebhookURL)
}

// ResolvePath anchors a relative path at system.home_dir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.System.HomeDir == "" {
		return p
	}
	return filepath.Join(c.System.HomeDir, p)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Server.MaxInFlight <= 0 {
		errs = append(errs, errors.New("server.max_in_flight must be positive"))
	}
	if c.Server.Backlog < 0 {
		errs = append(errs, errors.New("server.backlog must not be negative"))
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Capture.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("capture.max_body_bytes must be positive"))
	}
	if c.Capture.AppendTimeout <= 0 {
		errs = append(errs, errors.New("capture.append_timeout must be positive"))
	}
	if c.Decoy.AuthDelayMin < 0 || c.Decoy.AuthDelayMax < c.Decoy.AuthDelayMin {
		errs = append(errs, fmt.Errorf("decoy auth delay range [%s, %s] is invalid", c.Decoy.AuthDelayMin, c.Decoy.AuthDelayMax))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	if c.Alerts.Enabled {
		switch strings.ToLower(c.Alerts.MinSeverity) {
		case "critical", "high", "medium":
		default:
			errs = append(errs, fmt.Errorf("alerts.min_severity %q must be critical, high or medium", c.Alerts.MinSeverity))
		}
		switch c.Alerts.Webhook.AuthType {
		case "", "bearer", "apikey", "basic":
		default:
			errs = append(errs, fmt.Errorf("alerts.webhook.auth_type %q is not supported", c.Alerts.Webhook.AuthType))
		}
	}
	return errors.Join(errs...)
}
