package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsServiceAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New("littlelemon", "info", &buf)

	ctx := WithRequestID(context.Background(), "req-1")
	FromContext(ctx, base).Info("order placed", Action("create_order"), Err(errors.New("boom")))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "littlelemon", record["service"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "create_order", record["action"])
	assert.Equal(t, "boom", record["error"].(map[string]any)["msg"])
	assert.Contains(t, record, "hostname")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("littlelemon", "warn", &buf)
	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestFromContextWithoutRequestID(t *testing.T) {
	base := Discard()
	assert.Same(t, base, FromContext(context.Background(), base))
}
