package logging

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/masq"

	"gopherai-rag/internal/config"
)

var bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`)

// New builds the process logger. Secrets are redacted regardless of format.
func New(cfg config.LogConfig) *slog.Logger {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	redact := masq.New(
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("JWTSecret"),
		masq.WithFieldName("Password"),
		masq.WithContain("sk-"),
		masq.WithRegex(bearerPattern),
	)

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redact,
		})
	default:
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithColor(w == os.Stderr),
			clog.WithReplaceAttr(redact),
		)
	}
	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
