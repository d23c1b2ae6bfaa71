// Package zaplog adapts zap to reliable.Logger.
package zaplog

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/velmie/reliable"
)

const callerSkipFrames = 1

// Logger implements reliable.Logger with a zap SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ reliable.Logger = (*Logger)(nil)

// New wraps logger. A nil logger yields a no-op Logger.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Logger{sugar: logger.WithOptions(zap.AddCallerSkip(callerSkipFrames)).Sugar()}
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a child logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...)}
}

// Build creates a JSON zap logger. An empty level means info, or debug when development is set.
func Build(level string, development bool) (*zap.Logger, zap.AtomicLevel, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if development {
		atomic.SetLevel(zapcore.DebugLevel)
	}
	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("zaplog: invalid level %q: %w", level, err)
		}
		atomic.SetLevel(parsed)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = atomic
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("zaplog: build logger: %w", err)
	}

	return logger, atomic, nil
}
