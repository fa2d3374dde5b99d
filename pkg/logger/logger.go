// Package logger builds the process-local zap logger. The remote operational
// trail lives in pkg/cloudlog; entries here carry the trail's stream name so
// the two can be matched up.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger tagged with app. Entries go to stderr because
// stdout carries command results.
func New(app, level string) (*zap.Logger, error) {
	return newLogger(app, level, zapcore.Lock(os.Stderr))
}

func newLogger(app, level string, out zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), out, lvl)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	).With(zap.String("app", app)), nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// WithTrail tags every entry of l with the remote log group and stream the
// current run writes its trail to.
func WithTrail(l *zap.Logger, group, stream string) *zap.Logger {
	return l.With(zap.String("log_group", group), zap.String("log_stream", stream))
}
