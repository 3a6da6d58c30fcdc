package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"monsoon/internal/errors"
	"monsoon/internal/logger"
)

func TestParseLevel(t *testing.T) {
	level, ok := logger.ParseLevel("WARNING")
	assert.True(t, ok)
	assert.Equal(t, logger.WarnLevel, level)

	_, ok = logger.ParseLevel("loud")
	assert.False(t, ok)
}

func TestComponentLoggerAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel, "json")

	logger.Component("sampler").Info().Int("cores", 4).Msg("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sampler", entry["component"])
	assert.Equal(t, "started", entry["message"])
	assert.EqualValues(t, 4, entry["cores"])
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel, "json")

	logger.ErrorWithCode(errors.New().New(errors.ErrCounterInit)).Msg("subscription failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "counter_init_failed", entry["error_code"])
	assert.Equal(t, "error", entry["level"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.WarnLevel, "json")
	defer logger.SetLogLevel(logger.DebugLevel)

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
