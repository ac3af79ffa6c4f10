package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/PPraveen007/Decoy/internal/anonymization"
	"github.com/PPraveen007/Decoy/internal/api"
	"github.com/PPraveen007/Decoy/internal/capture"
	"github.com/PPraveen007/Decoy/internal/config"
	"github.com/PPraveen007/Decoy/internal/database"
	"github.com/PPraveen007/Decoy/internal/decoy"
	"github.com/PPraveen007/Decoy/internal/detection"
	"github.com/PPraveen007/Decoy/internal/logging"
	"github.com/PPraveen007/Decoy/internal/metrics"
	"github.com/PPraveen007/Decoy/internal/notifications"
	"github.com/PPraveen007/Decoy/internal/server"
	"github.com/PPraveen007/Decoy/internal/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "decoy",
		Short:         "Decoy - web honeypot with durable interaction capture",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the decoy and operations listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "decoy %s (schema v%d)\n", version, database.SchemaVersion())
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}

// app owns every long-lived resource of a running decoy. Nothing is global.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	traces io.Closer
	tracer *sdktrace.TracerProvider
	store  *database.SQLiteStore
	alerts *notifications.Manager
	server *server.Server
}

func newApp(cfg *config.Config, stdout io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.logger, err = logging.New(logging.Options{
		Dir:        cfg.ResolvePath(cfg.System.LogDir),
		File:       cfg.Logging.File,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		MaxSizeMB:  cfg.System.Rotation.MaxSizeMB,
		MaxBackups: cfg.System.Rotation.MaxBackups,
		MaxAgeDays: cfg.System.Rotation.MaxAgeDays,
		Compress:   cfg.System.Rotation.Compress,
		Stdout:     stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logger := a.logger.Logger
	logger.Info("starting decoy", slog.String("version", version), slog.String("config", cfg.Source))

	if cfg.Telemetry.Tracing {
		traceFile := cfg.Telemetry.TraceFile
		if !filepath.IsAbs(traceFile) {
			traceFile = filepath.Join(cfg.ResolvePath(cfg.System.LogDir), traceFile)
		}
		traces := &lumberjack.Logger{
			Filename:   traceFile,
			MaxSize:    cfg.System.Rotation.MaxSizeMB,
			MaxBackups: cfg.System.Rotation.MaxBackups,
			MaxAge:     cfg.System.Rotation.MaxAgeDays,
			Compress:   cfg.System.Rotation.Compress,
		}
		a.traces = traces
		if a.tracer, err = telemetry.InitTracer(cfg.Telemetry.ServiceName, traces, logger); err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	dbPath := cfg.ResolvePath(cfg.Database.Path)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	a.store, err = database.Open(database.SQLiteConfig{
		Driver:      cfg.Database.Driver,
		Path:        dbPath,
		JournalMode: cfg.Database.JournalMode,
		Synchronous: cfg.Database.Synchronous,
		BusyTimeout: cfg.Database.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	anonymizer := anonymization.NewAnonymizationEngine(true, nil)
	detector := detection.NewDetectionEngine()
	logger.Info("detection rules loaded", slog.Int("rules", len(detector.Rules())))

	var alerter decoy.Alerter
	if cfg.Alerts.Enabled {
		a.alerts = notifications.NewManager(cfg.Alerts, detector.Severity, m, logger)
		alerter = a.alerts
		logger.Info("alerts enabled",
			slog.String("min_severity", cfg.Alerts.MinSeverity),
			slog.Any("providers", a.alerts.GetProviderStatus()),
		)
	}

	routes := decoy.NewRouteTable(a.store, cfg.Decoy.LogsViewLimit)
	normalizer := capture.NewNormalizer(cfg.Capture.MaxBodyBytes, detector)
	logger.Info("decoy routes loaded",
		slog.Int("routes", len(routes.Routes())),
		slog.Int64("max_body_bytes", normalizer.MaxBodyBytes()),
	)

	dispatcher := decoy.NewDispatcher(decoy.Options{
		Routes:         routes,
		Normalizer:     normalizer,
		Store:          a.store,
		Sink:           decoy.NewCredentialSink(cfg.Decoy.AuthDelayMin, cfg.Decoy.AuthDelayMax),
		Logger:         logger,
		Metrics:        m,
		Anonymizer:     anonymizer,
		Alerter:        alerter,
		LogCredentials: cfg.Logging.LogCredentials,
		ServerHeader:   cfg.Decoy.ServerHeader,
		AppendTimeout:  cfg.Capture.AppendTimeout,
	})
	if cfg.Logging.LogCredentials {
		logger.Warn("credential values will be written to the operational log unmasked")
	}

	decoyHandler := server.NewDecoyRouter(dispatcher, cfg.Server, logger, m, cfg.Telemetry.Tracing)
	opsHandler := api.NewAPIServer(cfg.Server.OpsAPIKey, a.store, anonymizer, m, logger).Handler()
	a.server = server.New(cfg.Server, decoyHandler, opsHandler, logger)
	return a, nil
}

// run serves until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	if a.server.DecoyAddr() == nil {
		if err := a.server.Listen(); err != nil {
			return err
		}
	}
	err := a.server.Serve(ctx)
	a.logger.Info("decoy stopped")
	return err
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	var errs []error
	if a.alerts != nil {
		a.alerts.Close()
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(context.Background()))
	}
	if a.traces != nil {
		errs = append(errs, a.traces.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logger != nil {
		if err := errors.Join(errs...); err != nil {
			a.logger.Error("shutdown error", slog.String("error", err.Error()))
		}
		a.logger.Close()
	}
}
