package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PPraveen007/Decoy/internal/capture"
)

var (
	ErrNotFound      = errors.New("interaction not found")
	ErrClosed        = errors.New("capture store is closed")
	ErrInvalidRecord = errors.New("invalid interaction record")
)

// CaptureStore is the append-only interaction log shared by every decoy route.
type CaptureStore interface {
	// Append durably stores rec and returns its sequence id.
	Append(ctx context.Context, rec capture.Record) (int64, error)
	// QueryRecent returns up to limit records, most recent first.
	QueryRecent(ctx context.Context, limit int) ([]capture.Record, error)
	Get(ctx context.Context, id int64) (capture.Record, error)
	QueryBySource(ctx context.Context, source string, limit int) ([]capture.Record, error)
	CountByKind(ctx context.Context) ([]KindCount, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// KindCount is one row of the per-kind breakdown.
type KindCount struct {
	Kind  capture.Kind `db:"kind" json:"interaction_kind"`
	Total int64        `db:"total" json:"total"`
}

// Stats summarizes the whole log.
type Stats struct {
	Total   int64     `json:"total"`
	Sources int64     `json:"distinct_sources"`
	Oldest  time.Time `json:"oldest,omitzero"`
	Newest  time.Time `json:"newest,omitzero"`
}

const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)

	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// SQLiteConfig selects the database file and connection pragmas.
type SQLiteConfig struct {
	Driver      string
	Path        string
	JournalMode string
	Synchronous string
	BusyTimeout time.Duration
}

// durableSynchronous maps a configured synchronous mode onto one that fsyncs on
// every commit. The second result is false when the requested mode was weaker.
func durableSynchronous(mode string) (string, bool) {
	switch m := strings.ToUpper(strings.TrimSpace(mode)); m {
	case "", "FULL", "2":
		return "FULL", true
	case "EXTRA", "3":
		return "EXTRA", true
	default:
		return "FULL", false
	}
}

func journalMode(mode string) string {
	switch m := strings.ToUpper(strings.TrimSpace(mode)); m {
	case "DELETE", "TRUNCATE", "PERSIST":
		return m
	default:
		return "WAL"
	}
}

// DSN builds the driver-specific connection string. Pragmas are carried in the
// DSN so every pooled connection gets them, not just the first.
func (c SQLiteConfig) DSN() (string, error) {
	if c.Path == "" {
		return "", fmt.Errorf("sqlite path is required")
	}
	sync, _ := durableSynchronous(c.Synchronous)
	journal := journalMode(c.JournalMode)
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	busyMS := fmt.Sprintf("%d", busy.Milliseconds())

	q := url.Values{}
	switch c.Driver {
	case "", DriverSQLite3:
		q.Set("_journal_mode", journal)
		q.Set("_synchronous", sync)
		q.Set("_busy_timeout", busyMS)
		q.Set("_txlock", "immediate")
	case DriverSQLite:
		q.Add("_pragma", "journal_mode("+journal+")")
		q.Add("_pragma", "synchronous("+sync+")")
		q.Add("_pragma", "busy_timeout("+busyMS+")")
		q.Set("_txlock", "immediate")
	default:
		return "", fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
	return "file:" + c.Path + "?" + q.Encode(), nil
}

func (c SQLiteConfig) driverName() string {
	if c.Driver == "" {
		return DriverSQLite3
	}
	return c.Driver
}
