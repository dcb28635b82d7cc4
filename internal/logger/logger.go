package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// log stays a no-op until Initialize is called, so packages can log from tests without setup.
var log = zap.NewNop()

type Configuration struct {
	LogFile   string
	ErrorFile string
	Level     string
	Console   bool
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "timestamp",
	LevelKey:       "level",
	NameKey:        "logger",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.LowercaseLevelEncoder,
	EncodeTime:     zapcore.ISO8601TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// Initialize tees a JSON log file, an error-only JSON file and an optional
// stderr console into the process logger. Empty paths are skipped.
func Initialize(configuration Configuration) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(configuration.Level)); err != nil {
		level = zapcore.DebugLevel
	}

	var cores []zapcore.Core
	for _, file := range []struct {
		path  string
		level zapcore.LevelEnabler
	}{
		{configuration.LogFile, level},
		{configuration.ErrorFile, zapcore.ErrorLevel},
	} {
		if file.path == "" {
			continue
		}
		f, err := os.OpenFile(file.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(f), file.level))
	}

	if configuration.Console {
		// stdout carries command output
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stderr), level))
	}

	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return nil
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	_ = log.Sync()
}

// Scope is a package's named view of the process logger. It resolves the
// logger on every call, so scopes declared at package level follow Initialize.
type Scope string

func Named(name string) Scope {
	return Scope(name)
}

func (s Scope) Debug(message string, fields ...zap.Field) {
	log.Named(string(s)).Debug(message, fields...)
}

func (s Scope) Info(message string, fields ...zap.Field) {
	log.Named(string(s)).Info(message, fields...)
}

func (s Scope) Warn(message string, fields ...zap.Field) {
	log.Named(string(s)).Warn(message, fields...)
}

func (s Scope) Error(message string, fields ...zap.Field) {
	log.Named(string(s)).Error(message, fields...)
}
