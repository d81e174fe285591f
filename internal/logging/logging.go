// Package logging configures the zerolog logger used by every run.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls where log output goes.
type Options struct {
	// Level for console output. Empty means info.
	Level string
	// File, when set, receives JSON lines at debug level.
	File string
	// Debug forces the console to debug level.
	Debug bool
	// Console defaults to stderr.
	Console io.Writer
	// NoColor disables ANSI colors on the console.
	NoColor bool
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup builds the run logger, installs it as the global zerolog logger and
// returns a closer for the log file, if any. Every event carries a run_id.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: opts.NoColor}
	writers := []io.Writer{
		&zerolog.FilteredLevelWriter{Writer: zerolog.LevelWriterAdapter{Writer: console}, Level: level},
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()
	if opts.File == "" {
		logger = logger.Level(level)
	}

	log.Logger = logger
	return logger, closer, nil
}
