package logx

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jroosing/upnpkit/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestConfigureReturnsLogger(t *testing.T) {
	l := Configure(&config.LoggingConfig{Level: "DEBUG", Structured: true, StructuredFormat: "json"})
	assert.NotNil(t, l)
	assert.True(t, l.Enabled(nil, slog.LevelDebug))
}

func TestConfigureNilUsesDefaults(t *testing.T) {
	l := Configure(nil)
	assert.NotNil(t, l)
	assert.True(t, l.Enabled(nil, slog.LevelInfo))
	assert.False(t, l.Enabled(nil, slog.LevelDebug))
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotNil(t, l)
}
