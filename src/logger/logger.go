// Package logger defines the logging interface used throughout graphdoctor.
// Different implementations are used for different contexts: a zap-backed
// logger for normal operation and a silent logger for stdio MCP mode, where
// any output on stdout/stderr would corrupt the protocol stream.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal printf-style logging contract.
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ZapLogger writes structured logs via zap's sugared API.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger creates a production logger. When debug is true the level is
// lowered to Debug and output is development-formatted for readability.
func NewZapLogger(debug bool) (*ZapLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: z.Sugar()}, nil
}

// NewNop returns a ZapLogger that discards everything. Useful in tests that
// need a concrete *ZapLogger rather than the Silent implementation.
func NewNop() *ZapLogger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

func (z *ZapLogger) Info(msg string, args ...interface{})  { z.sugar.Infof(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.sugar.Errorf(msg, args...) }
func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.sugar.Debugf(msg, args...) }

// Sync flushes buffered log entries. Call before process exit.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}

// SilentLogger discards all log messages.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
