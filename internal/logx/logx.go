// Package logx configures the structured logger shared by every engine.
//
// It is deliberately thin: upnpkit treats logging as ambient plumbing
// (see the design notes), not a feature of the SSDP/GENA core, so this
// package takes a config.LoggingConfig directly rather than mirroring
// it behind a second type — one less struct to keep in sync as fields
// are added.
package logx

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jroosing/upnpkit/internal/config"
)

// Configure builds a *slog.Logger from cfg and installs it as the
// package-level default so collaborators that only have access to
// slog.Default() (e.g. code invoked from a host-supplied callback)
// still log consistently. A nil cfg behaves like a zero-value
// LoggingConfig (text handler, INFO level).
func Configure(cfg *config.LoggingConfig) *slog.Logger {
	if cfg == nil {
		cfg = &config.LoggingConfig{}
	}

	handler := newHandler(cfg, os.Stderr)
	if attrs := staticAttrs(cfg); len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// newHandler picks the slog.Handler implementation for cfg's
// structured/format fields: JSON only when both Structured is set and
// StructuredFormat names "json"; text otherwise.
func newHandler(cfg *config.LoggingConfig, out io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Structured && strings.EqualFold(cfg.StructuredFormat, "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// staticAttrs builds the fixed attribute set (extra fields plus an
// optional pid) every record from this logger will carry.
func staticAttrs(cfg *config.LoggingConfig) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+1)
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}
	return attrs
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards everything, for callers (tests,
// library consumers) that don't want to configure one.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
