package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelAttack sits between WARN and ERROR.
const LevelAttack = slog.Level(6)

// Options configures the operational logger.
type Options struct {
	Dir        string
	File       string
	Level      string
	Format     string // "text" or "json"
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Stdout receives a copy of every line. Nil means os.Stdout.
	Stdout io.Writer
}

// Logger is the operational log: a slog.Logger over a rotating file and stdout.
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

// New creates the log directory and a logger writing to both the rotating file
// and stdout. When Dir is empty only stdout is used.
func New(opts Options) (*Logger, error) {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	var out io.Writer = stdout
	var file *lumberjack.Logger
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := opts.File
		if name == "" {
			name = "decoy.log"
		}
		file = &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, name),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		out = io.MultiWriter(file, stdout)
	}

	return &Logger{
		Logger: slog.New(NewHandler(out, opts.Format, ParseLevel(opts.Level))),
		file:   file,
	}, nil
}

// NewHandler builds a text or JSON handler that prints LevelAttack as "ATTACK".
func NewHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	ho := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelAttack {
					a.Value = slog.StringValue("ATTACK")
				}
			}
			return a
		},
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

// ParseLevel maps a config string onto a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "attack":
		return LevelAttack
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Attack logs one captured interaction at LevelAttack.
func Attack(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	logger.LogAttrs(ctx, LevelAttack, msg, attrs...)
}

// Close flushes and closes the rotating file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
