package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zap adapts a *zap.Logger to the Logger interface.
type Zap struct {
	log *zap.Logger
}

// NewZap builds a production zap logger at the given level ("debug", "info",
// "warn", "error"; anything else means info).
func NewZap(level string) *Zap {
	cfg := zap.NewProductionConfig()

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	log, _ := cfg.Build(zap.AddCallerSkip(1))
	return &Zap{log: log}
}

// WrapZap adapts an existing *zap.Logger.
func WrapZap(log *zap.Logger) *Zap {
	return &Zap{log: log}
}

func (z *Zap) Debug(msg string, fields map[string]any) { z.log.Debug(msg, toZapFields(fields)...) }
func (z *Zap) Info(msg string, fields map[string]any)  { z.log.Info(msg, toZapFields(fields)...) }
func (z *Zap) Warn(msg string, fields map[string]any)  { z.log.Warn(msg, toZapFields(fields)...) }
func (z *Zap) Error(msg string, fields map[string]any) { z.log.Error(msg, toZapFields(fields)...) }

func toZapFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}
