package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_AppliesPrefix(t *testing.T) {
	var captured []string
	capture := func(format string, args ...interface{}) {
		captured = append(captured, fmt.Sprintf(format, args...))
	}

	logger := NewLogger("unit: shell , ", LogFuncs{
		Debugf: capture,
		Infof:  capture,
		Warnf:  capture,
		Errorf: capture,
	})

	logger.Debugf("debug %d", 1)
	logger.Infof("info %d", 2)
	logger.Warnf("warn %d", 3)
	logger.Errorf("error %d", 4)

	assert.Equal(t, []string{
		"unit: shell , debug 1",
		"unit: shell , info 2",
		"unit: shell , warn 3",
		"unit: shell , error 4",
	}, captured)
}

func TestNewLogger_MissingFuncsAreNoOps(t *testing.T) {
	var infos int
	logger := NewLogger("", LogFuncs{
		Infof: func(format string, args ...interface{}) { infos++ },
	})

	assert.NotPanics(t, func() {
		logger.Debugf("dropped")
		logger.Warnf("dropped")
		logger.Errorf("dropped")
		logger.Infof("kept")
	})
	assert.Equal(t, 1, infos)
}

func TestNewZapLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger, flush, err := NewZapLogger(level)
		require.NoError(t, err, "level %q", level)
		require.NotNil(t, logger)
		logger.Infof("level %q works", level)
		flush()
	}

	_, _, err := NewZapLogger("verbose")
	assert.Error(t, err)
}
