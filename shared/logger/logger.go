package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	ZapLogger   *zap.SugaredLogger
	atomicLevel zap.AtomicLevel
	forwarder   Forwarder
}

type Config struct {
	Level       string
	Environment string
	// Forwarder receives Warn and above. Nil disables forwarding.
	Forwarder Forwarder
}

func parseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, true
	case "info":
		return zap.InfoLevel, true
	case "warn", "warning":
		return zap.WarnLevel, true
	case "error":
		return zap.ErrorLevel, true
	case "fatal":
		return zap.FatalLevel, true
	}
	return zap.InfoLevel, false
}

func NewLogger(cfg Config) (*Logger, error) {
	logLevel, ok := parseLevel(cfg.Level)
	if !ok {
		fmt.Printf("WARN: Invalid log level '%s' specified, defaulting to INFO\n", cfg.Level)
	}

	atomicLevel := zap.NewAtomicLevelAt(logLevel)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "severity"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Environment == "production" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel)

	// AddCallerSkip(1) so the caller is the code calling Info/Warn, not this wrapper
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	l := &Logger{
		ZapLogger:   zapLogger.Sugar(),
		atomicLevel: atomicLevel,
		forwarder:   cfg.Forwarder,
	}
	l.ZapLogger.Infof("Logger initialized. Level: %s, Forwarding enabled: %t", logLevel.String(), cfg.Forwarder != nil)
	return l, nil
}

// NewNop returns a Logger that discards everything. Used by tests and as a
// fallback when a component is constructed without a logger.
func NewNop() *Logger {
	return &Logger{
		ZapLogger:   zap.NewNop().Sugar(),
		atomicLevel: zap.NewAtomicLevelAt(zap.FatalLevel),
	}
}

func (l *Logger) Zap() *zap.SugaredLogger {
	return l.ZapLogger
}

// SetForwarder swaps the ops forwarder after startup, once the transport exists.
func (l *Logger) SetForwarder(f Forwarder) {
	l.forwarder = f
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Warnw(msg, keysAndValues...)
	l.forward("🟡 *WARN:*", msg, keysAndValues)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Errorw(msg, keysAndValues...)
	l.forward("🔴 *ERROR:*", msg, keysAndValues)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Errorw(msg, keysAndValues...)
	if l.forwarder != nil {
		l.forward("💀 *FATAL:*", msg, keysAndValues)
		// Give the forwarder a moment before the process exits
		time.Sleep(1 * time.Second)
	}
	l.ZapLogger.Fatalw(msg, keysAndValues...)
}

func (l *Logger) SetLevel(level string) {
	logLevel, ok := parseLevel(level)
	if !ok || logLevel == zap.FatalLevel {
		l.ZapLogger.Warnf("Invalid log level '%s' provided to SetLevel, level unchanged.", level)
		return
	}
	l.atomicLevel.SetLevel(logLevel)
	l.ZapLogger.Infof("Logger level changed to: %s", logLevel.String())
}

// Level reports the current minimum level.
func (l *Logger) Level() string {
	return l.atomicLevel.Level().String()
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.ZapLogger.Sync()
}
