package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	config "github.com/mwantia/clickpoints/internal/config/app"
	"github.com/mwantia/fabric/pkg/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	assert.Equal(t, Debug, Parse("debug"))
	assert.Equal(t, Warn, Parse("WARNING"))
	assert.Equal(t, Error, Parse(" error "))
	assert.Equal(t, Info, Parse("bogus"))
}

func TestWriterLogger_FiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("pipeline", "warn", &buf)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "[pipeline]")
}

func TestNamed_JoinsNames(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("clickpoints", "debug", &buf).Named("store")

	l.Debug("opened")
	assert.Contains(t, buf.String(), "[clickpoints/store]")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := &LoggerServiceImpl{
		cfg:    config.LogConfig{JSON: true, TimeFormat: "15:04"},
		name:   "mask",
		level:  Debug,
		writer: &buf,
	}
	l.mu = NewWriterLogger("", "debug", &buf).(*LoggerServiceImpl).mu

	l.Info("saved %s", "a.png")

	var entry logEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "mask", entry.Service)
	assert.Equal(t, "saved a.png", entry.Message)
}

func TestMessageWithoutArgsKeepsPercent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("", "debug", &buf)
	l.Info("100% done")
	assert.Contains(t, buf.String(), "100% done")
}

func TestLoggerTagProcessor_CanProcess(t *testing.T) {
	p := NewLoggerTagProcessor()
	assert.True(t, p.CanProcess("logger"))
	assert.True(t, p.CanProcess("Logger:markers"))
	assert.False(t, p.CanProcess("inject"))
}

func TestFromContainer_Named(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger("clickpoints", "debug", &buf)

	sc := container.NewServiceContainer()
	require.NoError(t, container.Register[LoggerServiceImpl](sc,
		container.With[LoggerService](),
		container.WithInstance(base)))

	l, err := FromContainer(context.Background(), sc, "mask")
	require.NoError(t, err)
	l.Info("loaded")
	assert.Contains(t, buf.String(), "[clickpoints/mask]")

	_, err = FromContainer(context.Background(), container.NewServiceContainer(), "")
	assert.Error(t, err)
}
