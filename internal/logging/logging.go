// Package logging builds the zap.Logger shared across the process.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New instantiates a Logger for arpcut.
//
// level is one of: debug, info, warn, error, dpanic, panic, fatal.
//
// outputPaths are the file paths or URLs every log record is written
// to (stdout when nil). errOutputPaths receive only the logger's own
// internal errors, not error-level records (stderr when nil).
func New(level string, outputPaths, errOutputPaths []string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("error parsing log level: %w", err)
	}

	cfg := zap.Config{
		Level:             lvl,
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: false,
		Encoding:          "json",
		EncoderConfig:     encoderConfig(),
		OutputPaths:       withDefault(outputPaths, "stdout"),
		ErrorOutputPaths:  withDefault(errOutputPaths, "stderr"),
	}

	return cfg.Build()
}

// encoderConfig is the JSON field layout shared by every log record:
// a lowercase level name and an ISO8601 timestamp.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:  "message",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}
}

// withDefault returns paths unchanged if non-empty, else a single
// fallback path.
func withDefault(paths []string, fallback string) []string {
	if len(paths) == 0 {
		return []string{fallback}
	}
	return paths
}
