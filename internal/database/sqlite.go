package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/PPraveen007/Decoy/internal/capture"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the SQLite-backed CaptureStore. Writes are serialized through
// mu; reads go straight to the pool and see WAL snapshots.
type SQLiteStore struct {
	db     *sqlx.DB
	mu     sync.Mutex
	closed bool
	logger *slog.Logger
}

var _ CaptureStore = (*SQLiteStore)(nil)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open opens (creating if needed) the capture database and migrates its schema.
func Open(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if _, durable := durableSynchronous(cfg.Synchronous); !durable {
		logger.Warn("database synchronous mode too weak for evidence capture, using FULL",
			"requested", cfg.Synchronous)
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(cfg.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := RunMigrations(db.DB, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("capture store opened", "driver", cfg.driverName(), "path", cfg.Path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for read-only tooling.
func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close waits for any in-flight append, then closes the pool. Later calls
// return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Append stores rec in a single INSERT and returns the assigned id once the
// commit is on disk.
func (s *SQLiteStore) Append(ctx context.Context, rec capture.Record) (int64, error) {
	if rec.Timestamp.IsZero() || rec.Kind == "" {
		return 0, ErrInvalidRecord
	}
	row, err := newInteractionRow(rec)
	if err != nil {
		return 0, fmt.Errorf("encode interaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	result, err := s.db.NamedExecContext(ctx,
		`INSERT INTO interactions (
			timestamp, source_address, user_agent, method, path, raw_path, query, headers,
			body_kind, body, body_fields, body_truncated, interaction_kind, credentials, signals
		) VALUES (
			:timestamp, :source_address, :user_agent, :method, :path, :raw_path, :query, :headers,
			:body_kind, :body, :body_fields, :body_truncated, :interaction_kind, :credentials, :signals
		)`, row)
	if err != nil {
		return 0, fmt.Errorf("append interaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append interaction: %w", err)
	}
	return id, nil
}

const selectColumns = `SELECT id, timestamp, source_address, user_agent, method, path, raw_path, query, headers,
	body_kind, body, body_fields, body_truncated, interaction_kind, credentials, signals
	FROM interactions`

// QueryRecent returns up to limit records, highest id first. limit is clamped
// to [1, MaxQueryLimit]; non-positive selects DefaultQueryLimit.
func (s *SQLiteStore) QueryRecent(ctx context.Context, limit int) ([]capture.Record, error) {
	return s.selectRecords(ctx, selectColumns+` ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// QueryBySource returns the most recent records from one source address.
func (s *SQLiteStore) QueryBySource(ctx context.Context, source string, limit int) ([]capture.Record, error) {
	return s.selectRecords(ctx, selectColumns+` WHERE source_address = ? ORDER BY id DESC LIMIT ?`, source, clampLimit(limit))
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (capture.Record, error) {
	var row interactionRow
	err := s.db.GetContext(ctx, &row, selectColumns+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return capture.Record{}, ErrNotFound
	}
	if err != nil {
		return capture.Record{}, s.readErr("get interaction", err)
	}
	return row.record()
}

// CountByKind returns per-kind totals, largest first.
func (s *SQLiteStore) CountByKind(ctx context.Context) ([]KindCount, error) {
	counts := []KindCount{}
	err := s.db.SelectContext(ctx, &counts,
		`SELECT interaction_kind AS kind, COUNT(*) AS total
		 FROM interactions
		 GROUP BY interaction_kind
		 ORDER BY total DESC, kind ASC`)
	if err != nil {
		return nil, s.readErr("count interactions", err)
	}
	return counts, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var row struct {
		Total   int64  `db:"total"`
		Sources int64  `db:"sources"`
		Oldest  string `db:"oldest"`
		Newest  string `db:"newest"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total,
			COUNT(DISTINCT source_address) AS sources,
			COALESCE(MIN(timestamp), '') AS oldest,
			COALESCE(MAX(timestamp), '') AS newest
		 FROM interactions`)
	if err != nil {
		return Stats{}, s.readErr("interaction stats", err)
	}

	stats := Stats{Total: row.Total, Sources: row.Sources}
	if row.Oldest != "" {
		stats.Oldest, _ = time.Parse(timeLayout, row.Oldest)
		stats.Newest, _ = time.Parse(timeLayout, row.Newest)
	}
	return stats, nil
}

func (s *SQLiteStore) selectRecords(ctx context.Context, query string, args ...any) ([]capture.Record, error) {
	var rows []interactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, s.readErr("query interactions", err)
	}
	records := make([]capture.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SQLiteStore) readErr(op string, err error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// interactionRow is the column layout of the interactions table.
type interactionRow struct {
	ID            int64  `db:"id"`
	Timestamp     string `db:"timestamp"`
	SourceAddress string `db:"source_address"`
	UserAgent     string `db:"user_agent"`
	Method        string `db:"method"`
	Path          string `db:"path"`
	RawPath       string `db:"raw_path"`
	Query         string `db:"query"`
	Headers       string `db:"headers"`
	BodyKind      string `db:"body_kind"`
	Body          []byte `db:"body"`
	BodyFields    string `db:"body_fields"`
	BodyTruncated bool   `db:"body_truncated"`
	Kind          string `db:"interaction_kind"`
	Credentials   string `db:"credentials"`
	Signals       string `db:"signals"`
}

func newInteractionRow(rec capture.Record) (interactionRow, error) {
	headers, err := marshalPairs(rec.Headers, headerPair)
	if err != nil {
		return interactionRow{}, err
	}
	fields, err := marshalPairs(rec.Body.Fields, fieldPair)
	if err != nil {
		return interactionRow{}, err
	}
	creds, err := marshalPairs(rec.Credentials, fieldPair)
	if err != nil {
		return interactionRow{}, err
	}
	signals, err := marshalList(rec.Signals)
	if err != nil {
		return interactionRow{}, err
	}
	bodyKind := rec.Body.Kind
	if bodyKind == "" {
		bodyKind = capture.BodyNone
	}

	return interactionRow{
		Timestamp:     rec.Timestamp.UTC().Format(timeLayout),
		SourceAddress: rec.SourceAddress,
		UserAgent:     rec.UserAgent,
		Method:        rec.Method,
		Path:          rec.Path,
		RawPath:       rec.RawPath,
		Query:         rec.Query,
		Headers:       headers,
		BodyKind:      string(bodyKind),
		Body:          rec.Body.Raw,
		BodyFields:    fields,
		BodyTruncated: rec.Body.Truncated,
		Kind:          string(rec.Kind),
		Credentials:   creds,
		Signals:       signals,
	}, nil
}

func (row interactionRow) record() (capture.Record, error) {
	ts, err := time.Parse(timeLayout, row.Timestamp)
	if err != nil {
		return capture.Record{}, fmt.Errorf("interaction %d: bad timestamp %q: %w", row.ID, row.Timestamp, err)
	}
	rec := capture.Record{
		ID:            row.ID,
		Timestamp:     ts,
		SourceAddress: row.SourceAddress,
		UserAgent:     row.UserAgent,
		Method:        row.Method,
		Path:          row.Path,
		RawPath:       row.RawPath,
		Query:         row.Query,
		Headers:       []capture.Header{},
		Body: capture.Body{
			Kind:      capture.BodyKind(row.BodyKind),
			Raw:       row.Body,
			Truncated: row.BodyTruncated,
		},
		Kind: capture.Kind(row.Kind),
	}
	if err := unmarshalPairs(row.Headers, &rec.Headers, newHeader); err != nil {
		return capture.Record{}, fmt.Errorf("interaction %d headers: %w", row.ID, err)
	}
	if err := unmarshalPairs(row.BodyFields, &rec.Body.Fields, newField); err != nil {
		return capture.Record{}, fmt.Errorf("interaction %d body fields: %w", row.ID, err)
	}
	if err := unmarshalPairs(row.Credentials, &rec.Credentials, newField); err != nil {
		return capture.Record{}, fmt.Errorf("interaction %d credentials: %w", row.ID, err)
	}
	if err := unmarshalList(row.Signals, &rec.Signals); err != nil {
		return capture.Record{}, fmt.Errorf("interaction %d signals: %w", row.ID, err)
	}
	return rec, nil
}

func marshalList[T any](items []T) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalList[T any](s string, out *[]T) error {
	if s == "" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

// storedPair is the column encoding of a header or field. JSON strings cannot
// carry invalid UTF-8, so such text moves to the *_raw members, which
// encoding/json writes as base64.
type storedPair struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	NameRaw  []byte `json:"name_raw,omitempty"`
	ValueRaw []byte `json:"value_raw,omitempty"`
}

func newStoredPair(name, value string) storedPair {
	p := storedPair{Name: name, Value: value}
	if !utf8.ValidString(name) {
		p.Name, p.NameRaw = "", []byte(name)
	}
	if !utf8.ValidString(value) {
		p.Value, p.ValueRaw = "", []byte(value)
	}
	return p
}

func (p storedPair) text() (name, value string) {
	name, value = p.Name, p.Value
	if p.NameRaw != nil {
		name = string(p.NameRaw)
	}
	if p.ValueRaw != nil {
		value = string(p.ValueRaw)
	}
	return name, value
}

func headerPair(h capture.Header) (string, string) { return h.Name, h.Value }
func fieldPair(f capture.Field) (string, string)   { return f.Name, f.Value }

func newHeader(name, value string) capture.Header { return capture.Header{Name: name, Value: value} }
func newField(name, value string) capture.Field   { return capture.Field{Name: name, Value: value} }

func marshalPairs[T any](items []T, pair func(T) (string, string)) (string, error) {
	stored := make([]storedPair, len(items))
	for i, item := range items {
		stored[i] = newStoredPair(pair(item))
	}
	return marshalList(stored)
}

func unmarshalPairs[T any](s string, out *[]T, build func(name, value string) T) error {
	var stored []storedPair
	if err := unmarshalList(s, &stored); err != nil {
		return err
	}
	for _, p := range stored {
		*out = append(*out, build(p.text()))
	}
	return nil
}
