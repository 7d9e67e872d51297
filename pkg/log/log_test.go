package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{" warn ", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

// TestInitJSONOutput tests that component loggers emit JSON fields
func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := WithModel("lifecycle", "assignment")
	logger.Info().Float64("accuracy", 0.97).Msg("candidate promoted")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "lifecycle", entry["component"])
	assert.Equal(t, "assignment", entry["model"])
	assert.Equal(t, "candidate promoted", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	batchLogger := WithComponent("batch")
	batchLogger.Debug().Msg("hidden")
	raftLogger := WithNodeID("raft", "node-1")
	raftLogger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	raftLogger.Error().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), `"node_id":"node-1"`)
}

func TestNewConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: WarnLevel, Output: &buf})

	logger.Info().Msg("dropped")
	assert.Empty(t, buf.String())

	logger.Warn().Str("target", "shard-1").Msg("hot target")
	assert.Contains(t, buf.String(), "hot target")
	assert.Contains(t, buf.String(), "shard-1")
	assert.NotContains(t, buf.String(), "{")
}
