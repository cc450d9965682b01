// Package logger provides structured logging for Inlet, built on zap.
//
// Components receive a *zap.SugaredLogger and log with the key-value
// variants (Infow, Warnw, Errorw, Debugw) using the field-name constants
// from fields.go so log output stays queryable across the whole engine.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It defaults to a no-op logger so
// packages can log safely before Initialize is called.
var Logger *zap.SugaredLogger

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger.
// jsonOutput selects machine-readable JSON; otherwise console encoding is used.
// verbose lowers the level to Debug.
func Initialize(jsonOutput bool, verbose bool) error {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		zapLogger, err = config.Build()
		if err != nil {
			return err
		}
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderConfig),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// NewNop returns a no-op sugared logger for tests and optional dependencies.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
