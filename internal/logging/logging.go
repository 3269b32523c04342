package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide structured logger. It defaults to a nop
// logger so library code and tests can log without calling Init.
var Logger = zap.NewNop().Sugar()

// Init installs the production JSON logger. Call once from main.
func Init(debug bool) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return
	}
	Logger = logger.Sugar()
}

// Sync flushes buffered log entries. Safe to call on the nop logger.
func Sync() { _ = Logger.Sync() }
