package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Configure installs a process-wide slog default logger writing to stderr.
//
// Supported levels: debug, info, warn, error.
func Configure(level string) error {
	return configure(level, os.Stderr)
}

// Rotation describes an optional rotating file sink alongside stderr.
type Rotation struct {
	File       string // path; empty keeps stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ConfigureRotating installs the default logger writing to stderr and,
// when rot.File is set, to a size-rotated file as well. Field units keep
// running for months unattended; unbounded logs fill their flash.
func ConfigureRotating(level string, rot Rotation) error {
	if rot.File == "" {
		return configure(level, os.Stderr)
	}
	sink := &lumberjack.Logger{
		Filename:   rot.File,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
	}
	return configure(level, io.MultiWriter(os.Stderr, sink))
}

func configure(level string, w io.Writer) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
