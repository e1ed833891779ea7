package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds the production Logger on top of a zap
// SugaredLogger. The returned flush function must be called before the
// process exits to drain buffered entries.
func NewZapLogger(level string) (Logger, func(), error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	zapLogger, err := config.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	sugar := zapLogger.Sugar()
	logger := NewLogger("", LogFuncs{
		Debugf: sugar.Debugf,
		Infof:  sugar.Infof,
		Warnf:  sugar.Warnf,
		Errorf: sugar.Errorf,
	})

	flush := func() {
		_ = zapLogger.Sync()
	}

	return logger, flush, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}
