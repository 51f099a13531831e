// Package logging provides the structured logger shared by the allocation
// engine and its collaborators.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance
	Logger *zap.Logger

	// Sugar is the sugared logger, for printf-style warnings
	Sugar *zap.SugaredLogger

	level = zap.NewAtomicLevel()
)

// Config contains logging configuration
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string

	// Format is json or console
	Format string

	// Output is stdout, stderr or a file path
	Output string

	// Development adds callers and error stack traces
	Development bool
}

// DefaultConfig returns the console logger used before the CLI reads its settings.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// Initialize sets up the global logger. An unknown level falls back to info.
func Initialize(cfg Config) error {
	if err := SetLevel(cfg.Level); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), out, level)

	if cfg.Development {
		SetLogger(zap.New(core, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	} else {
		SetLogger(zap.New(core))
	}
	return nil
}

// SetLevel changes the minimum level of the loggers built by Initialize
func SetLevel(l string) error {
	parsed, err := zapcore.ParseLevel(l)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func openOutput(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	}
	file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(file), nil
}

// SetLogger replaces the global logger, e.g. with an observer core in tests.
func SetLogger(l *zap.Logger) {
	Logger = l
	Sugar = l.Sugar()
}

// Sync flushes the logger
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Named returns a child logger for one component of the engine.
func Named(component string) *zap.Logger {
	return Logger.Named(component)
}

func Debug(msg string, fields ...zap.Field) {
	Logger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Logger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

func init() {
	_ = Initialize(DefaultConfig())
}
