// Package slogger configures the process-wide slog logger.
//
// Call Init() at the start of main(). LOG_LEVEL picks the level ("debug",
// "info", "warn", "error"; default "info") and LOG_FORMAT picks the handler
// ("text" or "json"; default "text"). Logs go to stderr so command output on
// stdout stays clean.
package slogger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level holds the dynamic log level so it can be queried at runtime.
var level *slog.LevelVar

// Init configures the default logger from the environment.
func Init() {
	InitWith(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// InitWith configures the default logger to write to w.
func InitWith(w io.Writer, lvl, format string) {
	level = &slog.LevelVar{}
	level.Set(parseLevel(lvl))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler).With("service", "satori-audit"))
}

// SetLevel changes the level after Init, e.g. for a --verbose flag.
func SetLevel(l slog.Level) {
	if level == nil {
		level = &slog.LevelVar{}
	}
	level.Set(l)
}

// Level returns the current slog.Level.
func Level() slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

// IsDebug returns true when the current log level is debug or lower.
func IsDebug() bool {
	return Level() <= slog.LevelDebug
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
