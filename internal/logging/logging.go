// Package logging configures the process-wide slog default.
// Interactive terminals get a colored tint handler; everything else
// (hooks, the worker under a service manager) gets plain text on stderr.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Setup installs the default logger. Level comes from CLAUDE_MEM_LOG_LEVEL
// (debug, info, warn, error); unknown values mean info.
func Setup() {
	level := parseLevel(os.Getenv("CLAUDE_MEM_LOG_LEVEL"))

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:   level,
			NoColor: true,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// SetupWithFile mirrors Setup but tees log output to w as well, so the
// worker's history survives for GET /logs.
func SetupWithFile(w io.Writer) {
	level := parseLevel(os.Getenv("CLAUDE_MEM_LOG_LEVEL"))
	handler := tint.NewHandler(io.MultiWriter(os.Stderr, w), &tint.Options{
		Level:   level,
		NoColor: true,
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
