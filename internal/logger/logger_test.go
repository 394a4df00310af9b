package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, DebugLevel)

	log.Info("sync started", String("peer", "Laptop"), Int("events", 4))

	entry := lastEntry(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "sync started", entry["message"])
	assert.Equal(t, "Laptop", entry["peer"])
	assert.Equal(t, float64(4), entry["events"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, WarnLevel)

	log.Debug("hidden")
	log.Info("hidden too")
	assert.Zero(t, buf.Len())

	log.Warn("visible")
	assert.NotZero(t, buf.Len())
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, InfoLevel)

	child := log.WithFields(String("component", "discovery"))
	child.Info("peer discovered", String("device_name", "Phone"))

	entry := lastEntry(t, &buf)
	assert.Equal(t, "discovery", entry["component"])
	assert.Equal(t, "Phone", entry["device_name"])
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, Field{Key: "k", Value: "v"}, String("k", "v"))
	assert.Equal(t, Field{Key: "n", Value: 7}, Int("n", 7))
	assert.Equal(t, Field{Key: "ok", Value: true}, Bool("ok", true))
	assert.Equal(t, Field{Key: "d", Value: "5s"}, Duration("d", 5*time.Second))

	assert.Equal(t, Field{Key: "error", Value: "boom"}, Error(errors.New("boom")))
	assert.Equal(t, Field{Key: "error", Value: nil}, Error(nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
}

func TestSyncError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewSyncError(ErrCodeNetworkError, "sync aborted", cause)

	assert.Contains(t, err.Error(), ErrCodeNetworkError)
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)

	err.WithDetails("peer", "Laptop")
	assert.Equal(t, "Laptop", err.Details["peer"])

	bare := NewSyncError(ErrCodeStorageError, "key file unreadable", nil)
	assert.Equal(t, "STORAGE_ERROR: key file unreadable", bare.Error())
}
