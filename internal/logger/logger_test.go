package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-extractor/internal/config"
)

func TestNewWritesJSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json"}, &buf)

	l.Info().Msg("丢弃")
	assert.Zero(t, buf.Len(), "低于配置级别的日志不应输出")

	l.Warn().Str("file", "a.pdf").Msg("保留")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "a.pdf", entry["file"])
	assert.Equal(t, "保留", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "loud"}, &buf)
	l.Debug().Msg("x")
	assert.Zero(t, buf.Len())
	l.Info().Msg("y")
	assert.NotZero(t, buf.Len())
}

func TestFromAppConfig(t *testing.T) {
	c := FromAppConfig(config.LoggerConfig{Level: "debug", Format: "pretty", ReportCaller: true})
	assert.Equal(t, Config{Level: "debug", Format: "pretty", ReportCaller: true}, c)
}
