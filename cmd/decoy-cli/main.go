package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PPraveen007/Decoy/internal/anonymization"
	"github.com/PPraveen007/Decoy/internal/capture"
	"github.com/PPraveen007/Decoy/internal/config"
	"github.com/PPraveen007/Decoy/internal/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli carries the store opened for the running command.
type cli struct {
	configPath string
	dbPath     string
	driver     string
	redact     bool
	limit      int

	store *database.SQLiteStore
	path  string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "decoy-cli",
		Short: "Decoy CLI - inspect the interaction capture database",
		Long: `decoy-cli reads the capture database written by the decoy server.
Interactions are never modified; the store is append-only.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&c.dbPath, "db", "", "database file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&c.driver, "driver", "", "database driver: sqlite3 or sqlite (overrides config)")

	interactionCmd := &cobra.Command{
		Use:   "interaction",
		Short: "Query captured interactions",
	}
	listCmd := &cobra.Command{Use: "list", Short: "List recent interactions", Args: cobra.NoArgs, RunE: c.withStore(c.listInteractions)}
	byIPCmd := &cobra.Command{Use: "by-ip [ip]", Short: "Interactions from one source address", Args: cobra.ExactArgs(1), RunE: c.withStore(c.interactionsByIP)}
	for _, cmd := range []*cobra.Command{listCmd, byIPCmd} {
		cmd.Flags().IntVarP(&c.limit, "limit", "n", 50, "maximum rows")
	}
	viewCmd := &cobra.Command{Use: "view [id]", Short: "View one interaction", Args: cobra.ExactArgs(1), RunE: c.withStore(c.viewInteraction)}
	viewCmd.Flags().BoolVar(&c.redact, "redact", false, "mask sensitive headers and credential secrets")
	interactionCmd.AddCommand(
		listCmd,
		viewCmd,
		byIPCmd,
		&cobra.Command{Use: "stats", Short: "Interaction counts by kind", Args: cobra.NoArgs, RunE: c.withStore(c.interactionStats)},
	)

	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}
	dbCmd.AddCommand(
		&cobra.Command{Use: "stats", Short: "Database statistics", Args: cobra.NoArgs, RunE: c.withStore(c.dbStats)},
		&cobra.Command{Use: "schema", Short: "Show database schema", Args: cobra.NoArgs, RunE: c.withStore(c.showSchema)},
	)

	rootCmd.AddCommand(interactionCmd, dbCmd)
	return rootCmd
}

// withStore opens the capture database around run.
func (c *cli) withStore(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := c.open(); err != nil {
			return err
		}
		defer c.close()
		return run(cmd, args)
	}
}

func (c *cli) open() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.path = cfg.ResolvePath(cfg.Database.Path)
	if c.dbPath != "" {
		c.path = c.dbPath
	}
	driver := cfg.Database.Driver
	if c.driver != "" {
		driver = c.driver
	}
	if _, err := os.Stat(c.path); err != nil {
		return fmt.Errorf("database %s: %w", c.path, err)
	}

	c.store, err = database.Open(database.SQLiteConfig{
		Driver:      driver,
		Path:        c.path,
		JournalMode: cfg.Database.JournalMode,
		Synchronous: cfg.Database.Synchronous,
		BusyTimeout: cfg.Database.BusyTimeout,
	}, nil)
	return err
}

func (c *cli) close() {
	if c.store != nil {
		c.store.Close()
		c.store = nil
	}
}

// ============== INTERACTION COMMANDS ==============

func (c *cli) listInteractions(cmd *cobra.Command, args []string) error {
	records, err := c.store.QueryRecent(cmd.Context(), c.limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printTable(out, records)
	fmt.Fprintf(out, "\nTotal: %d interactions\n", len(records))
	return nil
}

func (c *cli) interactionsByIP(cmd *cobra.Command, args []string) error {
	records, err := c.store.QueryBySource(cmd.Context(), args[0], c.limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Interactions from %s\n", args[0])
	printTable(out, records)
	fmt.Fprintf(out, "\nTotal: %d\n", len(records))
	return nil
}

func printTable(out io.Writer, records []capture.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tSOURCE IP\tMETHOD\tPATH\tKIND\tSIGNALS")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Timestamp.Format(time.RFC3339), rec.SourceAddress, rec.Method,
			strconv.Quote(rec.Path), rec.Kind, strings.Join(rec.Signals, ","))
	}
	w.Flush()
}

func (c *cli) viewInteraction(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}
	rec, err := c.store.Get(cmd.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("interaction %d not found", id)
	}
	if err != nil {
		return err
	}
	if c.redact {
		rec = anonymization.NewAnonymizationEngine(true, nil).AnonymizeRecord(rec).Record
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, `
Interaction #%d
================
Timestamp:         %s
Kind:              %s
Source IP:         %s
User Agent:        %q
Method:            %q
Path:              %q
Raw Path:          %q
Query:             %q
Signals:           %s
`, rec.ID, rec.Timestamp.Format(time.RFC3339Nano), rec.Kind, rec.SourceAddress, rec.UserAgent,
		rec.Method, rec.Path, rec.RawPath, rec.Query, strings.Join(rec.Signals, ", "))

	fmt.Fprintln(out, "\nHeaders:")
	for _, h := range rec.Headers {
		fmt.Fprintf(out, "  %s: %q\n", h.Name, h.Value)
	}
	if len(rec.Credentials) > 0 {
		fmt.Fprintln(out, "\nCredentials:")
		for _, f := range rec.Credentials {
			fmt.Fprintf(out, "  %s = %q\n", f.Name, f.Value)
		}
	}

	fmt.Fprintf(out, "\nBody (%s, %d bytes", rec.Body.Kind, len(rec.Body.Raw))
	if rec.Body.Truncated {
		fmt.Fprint(out, ", truncated")
	}
	fmt.Fprintln(out, "):")
	if len(rec.Body.Raw) > 0 {
		fmt.Fprintf(out, "  %q\n", rec.Body.Raw)
	}
	return nil
}

func (c *cli) interactionStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return err
	}
	kinds, err := c.store.CountByKind(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, `
Interaction Statistics
=======================
Total Interactions:  %d
Unique Sources:      %d
First Seen:          %s
Latest:              %s

`, stats.Total, stats.Sources, formatTime(stats.Oldest), formatTime(stats.Newest))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCOUNT")
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%d\n", k.Kind, k.Total)
	}
	return w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// ============== DATABASE COMMANDS ==============

func (c *cli) dbStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return err
	}
	var version int
	if err := c.store.DB().GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return err
	}
	var journal string
	if err := c.store.DB().GetContext(ctx, &journal, "PRAGMA journal_mode"); err != nil {
		return err
	}

	size := "unknown"
	if fileInfo, err := os.Stat(c.path); err == nil {
		size = fmt.Sprintf("%.2f MB", float64(fileInfo.Size())/(1024*1024))
	}

	fmt.Fprintf(cmd.OutOrStdout(), `
Database Statistics
====================
Path:                  %s
Schema Version:        %d
Journal Mode:          %s
Interactions:          %d
Database Size:         %s
`, c.path, version, journal, stats.Total, size)
	return nil
}

func (c *cli) showSchema(cmd *cobra.Command, args []string) error {
	var stmts []string
	err := c.store.DB().SelectContext(cmd.Context(), &stmts,
		`SELECT sql FROM sqlite_master
		 WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		 ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Decoy Database Schema (v%d)\n===========================\n\n", database.SchemaVersion())
	for _, s := range stmts {
		fmt.Fprintf(out, "%s;\n\n", s)
	}
	return nil
}

