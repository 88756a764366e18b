// Package telemetry wraps zap and prometheus behind narrow interfaces so
// components depend on a handful of methods rather than the full client
// surface. Grounded on the teacher's log.NoLog adapter (log/nolog.go),
// which implements a similarly narrow logging contract behind
// github.com/luxfi/log.Logger.
package telemetry

import "go.uber.org/zap"

// Logger is the structured logging interface passed explicitly to every
// component handle (ledger, orchestrator, canary engine, ...). There is
// no package-level singleton logger.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

type zapLogger struct {
	z *zap.SugaredLogger
}

// NewLogger wraps a *zap.Logger.
func NewLogger(z *zap.Logger) Logger {
	return &zapLogger{z: z.Sugar()}
}

// NewProduction builds a production-configured *zap.Logger wrapped as a
// Logger, suitable for the governor daemon.
func NewProduction() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewLogger(z), nil
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.z.Desugar().Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.z.Desugar().Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.z.Desugar().Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.z.Desugar().Error(msg, fields...) }

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z.Desugar().With(fields...).Sugar()}
}

// NoOp is a Logger that discards everything; grounded on log.NoLog,
// scaled down to this package's narrower interface. Used in tests and
// wherever a caller declines to wire a logger.
type NoOp struct{}

// NewNoOp returns a Logger that does nothing.
func NewNoOp() Logger { return NoOp{} }

func (NoOp) Debug(string, ...zap.Field)   {}
func (NoOp) Info(string, ...zap.Field)    {}
func (NoOp) Warn(string, ...zap.Field)    {}
func (NoOp) Error(string, ...zap.Field)   {}
func (n NoOp) With(...zap.Field) Logger   { return n }
