package logger_test

import (
	"strings"
	"testing"

	"github.com/bleq/bleq/client/logger"
	"github.com/stretchr/testify/assert"
)

func TestConfigMap_LevelForNamespace(t *testing.T) {
	config := logger.NewConfigMapFromString("bleq:scheduler:trace,queue:debug,warn")

	assert.Equal(t, logger.LevelTrace, config.LevelForNamespace("bleq:scheduler"))
	assert.Equal(t, logger.LevelDebug, config.LevelForNamespace("bleq:queue"))
	assert.Equal(t, logger.LevelWarn, config.LevelForNamespace("bleq:longwrite"))
	assert.Equal(t, logger.LevelWarn, config.LevelForNamespace(""))
}

func TestConfigMap_Empty(t *testing.T) {
	assert.Nil(t, logger.NewConfigMapFromString(""))
}

func TestLogger_LevelFiltering(t *testing.T) {
	var sb strings.Builder

	log := logger.New().
		WithConfig(logger.NewConfigMapFromString("bleq:info")).
		WithWriter(&sb).
		WithNamespaceAppended("bleq")

	_, err := log.Debug("hidden", nil)
	assert.NoError(t, err)
	assert.Equal(t, "", sb.String())

	_, err = log.Info("shown", logger.Ctx{"op_id": "abc"})
	assert.NoError(t, err)

	out := sb.String()
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "[bleq]")
	assert.Contains(t, out, "op_id=abc")
}

func TestLogger_CtxMerge(t *testing.T) {
	var sb strings.Builder

	log := logger.New().
		WithConfig(logger.ConfigMap{"": logger.LevelTrace}).
		WithWriter(&sb).
		WithCtx(logger.Ctx{"device": "aa:bb"})

	_, err := log.Trace("msg", logger.Ctx{"char": "2a37"})
	assert.NoError(t, err)

	out := sb.String()
	assert.Contains(t, out, "device=aa:bb")
	assert.Contains(t, out, "char=2a37")
}

func TestLogger_NamespaceAppended(t *testing.T) {
	log := logger.New().WithNamespaceAppended("bleq").WithNamespaceAppended("queue")

	assert.Equal(t, "bleq:queue", log.Namespace())
}

func TestLevel_RoundTrip(t *testing.T) {
	for _, level := range []logger.Level{
		logger.LevelDisabled,
		logger.LevelError,
		logger.LevelWarn,
		logger.LevelInfo,
		logger.LevelDebug,
		logger.LevelTrace,
	} {
		parsed, ok := logger.LevelFromString(level.String())
		assert.True(t, ok)
		assert.Equal(t, level, parsed)
	}

	_, ok := logger.LevelFromString("nope")
	assert.False(t, ok)
}
