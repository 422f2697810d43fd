// Package logger defines the minimal structured logging surface the protocol
// layer emits to, with a zap-backed production implementation.
package logger

// Logger is the logging capability consumed by the middleware, facilitator
// client and payment agent.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Noop discards all log output. It is the default when no logger is
// configured.
type Noop struct{}

func (Noop) Debug(string, map[string]any) {}
func (Noop) Info(string, map[string]any)  {}
func (Noop) Warn(string, map[string]any)  {}
func (Noop) Error(string, map[string]any) {}
