// Package logging builds the service's zerolog logger: level selection,
// console or JSON output, optional rotating file output and redaction of
// credentials before anything reaches a sink.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string
	Pretty bool
	// File enables a rotating log file in addition to the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns the logger described by cfg writing to out, plus a closer for
// the log file (a no-op when no file is configured). Every value in secrets is
// redacted from the output along with well-known token formats.
func New(cfg Config, out io.Writer, secrets ...string) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var (
		sink   io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   true,
		}
		sink = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	logger := zerolog.New(NewRedactor(sink, secrets...)).
		Level(level).
		With().Timestamp().Str("service", "pagesdeploy").
		Logger()
	return logger, closer, nil
}

func parseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(s))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
