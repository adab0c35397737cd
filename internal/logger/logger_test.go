package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	assert.True(t, New("debug", "production").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("", "development").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("nonsense", "").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("WARN", "").Core().Enabled(zapcore.InfoLevel))
}
