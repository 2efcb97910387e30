package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &out))
	return out
}

func TestNew_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "attemptctl", "debug", "json")

	log.Info().Str("attempt_id", "a1").Msg("Attempt expired")

	line := lastLine(t, &buf)
	assert.Equal(t, "attemptctl", line["service"])
	assert.Equal(t, "a1", line["attempt_id"])
	assert.Equal(t, "info", line["level"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "svc", "loud", "json")

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewWatermillAdapter(New(&buf, "svc", "info", "json")).
		With(watermill.LogFields{"topic": "assessment.attempt.graded"})

	adapter.Error("publish failed", errors.New("broker down"), watermill.LogFields{"attempt_id": "a1"})

	line := lastLine(t, &buf)
	assert.Equal(t, "watermill", line["component"])
	assert.Equal(t, "assessment.attempt.graded", line["topic"])
	assert.Equal(t, "a1", line["attempt_id"])
	assert.Equal(t, "broker down", line["error"])
}
