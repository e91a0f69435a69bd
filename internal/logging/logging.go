// Package logging installs the process-wide slog handler. Library packages
// log through slog.Default(), so whatever the CLI configures here is what
// every component emits.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Config controls the handler installed by Setup.
type Config struct {
	Level      slog.Level
	OutputFile string // empty means stderr only
	MaxSize    int64  // bytes before the file is rotated
	MaxBackups int    // rotated files to keep
	JSONFormat bool
	AddSource  bool
}

// DefaultConfig returns text output on stderr, debug level when verbose.
func DefaultConfig(verbose bool) Config {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return Config{
		Level:      level,
		MaxSize:    10 * 1024 * 1024,
		MaxBackups: 3,
		AddSource:  verbose,
	}
}

// FileConfig returns JSON output mirrored to a rotating file, for long-running
// processes whose stderr is not captured.
func FileConfig(path string) Config {
	return Config{
		Level:      slog.LevelInfo,
		OutputFile: path,
		MaxSize:    50 * 1024 * 1024,
		MaxBackups: 10,
		JSONFormat: true,
	}
}

// Setup builds a handler from cfg and installs it as slog's default. It
// returns a closer for the log file, a no-op when logging only to stderr.
func Setup(cfg Config) (func() error, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 10 * 1024 * 1024
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}

	writers := []io.Writer{os.Stderr}
	closer := func() error { return nil }

	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		if err := rotateIfNeeded(cfg.OutputFile, cfg.MaxSize, cfg.MaxBackups); err != nil {
			return nil, fmt.Errorf("rotate log file: %w", err)
		}
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writers = append(writers, file)
		closer = file.Close
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	out := io.MultiWriter(writers...)

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

// rotateIfNeeded shifts path to path.1, path.1 to path.2, and so on, once the
// file reaches maxSize. Backups beyond maxBackups fall off the end.
func rotateIfNeeded(path string, maxSize int64, maxBackups int) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	for i := maxBackups - 1; i >= 1; i-- {
		old := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(old); err == nil {
			os.Rename(old, fmt.Sprintf("%s.%d", path, i+1))
		}
	}
	return os.Rename(path, path+".1")
}
