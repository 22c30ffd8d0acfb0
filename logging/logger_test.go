package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LogLevelInfo, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestSlogBackendWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LogLevelDebug, Output: &buf})
	require.NoError(t, err)

	With(l, "component", "router").Info("route.select", "room_id", "r1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "route.select", entry["msg"])
	assert.Equal(t, "router", entry["component"])
	assert.Equal(t, "r1", entry["room_id"])
}

func TestSlogBackendFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LogLevelError, Output: &buf, Format: "text"})
	require.NoError(t, err)
	l.Info("hidden")
	assert.Empty(t, buf.String())
	l.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := With(NewZapAdapter(zap.New(core)), "component", "server")
	l.Warn("ws.slow_consumer", "conn_id", "c1")

	require.Equal(t, 1, logs.Len())
	e := logs.All()[0]
	assert.Equal(t, "ws.slow_consumer", e.Message)
	assert.Equal(t, "server", e.ContextMap()["component"])
	assert.Equal(t, "c1", e.ContextMap()["conn_id"])
}

type recording struct{ args [][]any }

func (r *recording) Debug(string, ...any)        {}
func (r *recording) Info(_ string, args ...any)  { r.args = append(r.args, args) }
func (r *recording) Warn(string, ...any)         {}
func (r *recording) Error(string, ...any)        {}

func TestWithFallsBackToBoundLogger(t *testing.T) {
	rec := &recording{}
	With(rec, "a", 1).Info("x", "b", 2)
	require.Len(t, rec.args, 1)
	assert.Equal(t, []any{"a", 1, "b", 2}, rec.args[0])
	assert.Equal(t, NoOpLogger{}, With(nil))
}

func TestUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "syslog"})
	assert.Error(t, err)
}
