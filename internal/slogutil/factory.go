package slogutil

import (
	"io"
	"log/slog"
	"os"

	"faultline/internal/config"
	"faultline/internal/paths"
)

// LoggerFactory creates loggers for the CLI and the background ingestion workers.
// Precedence for levels: CLI flags > config > info.
type LoggerFactory struct {
	cfg      *config.Config
	cliLevel *slog.Level
	stderr   io.Writer
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory. cliLevel is nil when no
// verbosity flag was given.
func NewLoggerFactory(cfg *config.Config, cliLevel *slog.Level) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{
		cfg:      cfg,
		cliLevel: cliLevel,
		stderr:   os.Stderr,
	}
}

// CLILogger returns a logger writing to stderr.
func (f *LoggerFactory) CLILogger() *slog.Logger {
	return NewFormattedLogger(f.stderr, f.cfg.Logging.Format, f.effectiveLevel())
}

// IngestLogger returns a logger for background ingestion that writes to
// <dataDir>/logs/ingest.log, rotated at logging.maxSize, as well as stderr.
// Falls back to stderr only if the log file cannot be opened.
func (f *LoggerFactory) IngestLogger() *slog.Logger {
	level := f.effectiveLevel()
	console := f.CLILogger()

	logDir, err := paths.EnsureLogsDir(f.cfg.DataDir)
	if err != nil {
		console.Warn("Cannot create log directory, logging to stderr only", "error", err)
		return console
	}

	fileLogger, file, err := NewRotatingFileLogger(
		paths.IngestLogPath(logDir),
		f.cfg.Logging.Format,
		level,
		f.cfg.Logging.MaxSize,
		f.cfg.Logging.MaxBackups,
	)
	if err != nil {
		console.Warn("Cannot open ingest log, logging to stderr only", "error", err)
		return console
	}
	f.closers = append(f.closers, file)

	return slog.New(NewTeeHandler(console.Handler(), fileLogger.Handler()))
}

func (f *LoggerFactory) effectiveLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	if f.cfg.Logging.Level != "" {
		return LevelFromString(f.cfg.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
