/*
Copyright 2024 The Forge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log builds a logr.Logger backed by zap, shared across shipyard's
// HTTP handlers, sessions and CLI.
package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DebugLevel is the debug log level, i.e. the most verbose.
	DebugLevel Level = "debug"
	// InfoLevel is the default log level.
	InfoLevel Level = "info"
	// ErrorLevel is a log level where only errors are logged.
	ErrorLevel Level = "error"
)

// Level is the configured verbosity, settable from a flag or a config file.
type Level string

// Format selects the zap encoder.
type Format string

const (
	FormatJSON    Format = "JSON"
	FormatConsole Format = "Console"
)

var (
	// AllLevels is a slice of all available log levels.
	AllLevels = []Level{DebugLevel, InfoLevel, ErrorLevel}
	// AllFormats is a slice of all available log formats.
	AllFormats = []Format{FormatJSON, FormatConsole}
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// MustNew is like New but panics on invalid input, for use at process startup.
func MustNew(level Level, format Format) logr.Logger {
	logger, err := New(level, format)
	if err != nil {
		panic(err)
	}
	return logger
}

// New creates a new logr.Logger backed by zap.
func New(level Level, format Format) (logr.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case DebugLevel:
		zapLevel = zap.DebugLevel
	case ErrorLevel:
		zapLevel = zap.ErrorLevel
	case "", InfoLevel:
		zapLevel = zap.InfoLevel
	default:
		return logr.Logger{}, fmt.Errorf("invalid log level %q", level)
	}

	var encoder zapcore.Encoder
	switch format {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	case "", FormatConsole:
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	default:
		return logr.Logger{}, fmt.Errorf("invalid log format %q", format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), zapLevel)
	zl := zap.New(core, zap.AddCaller())
	return zapr.NewLogger(zl), nil
}

// NewDefault creates the default logger used when no configuration has
// been loaded yet (e.g. while parsing flags).
func NewDefault() logr.Logger {
	return MustNew(InfoLevel, FormatJSON)
}

// Type returns the flag.Value type name.
func (f *Format) Type() string { return "logFormat" }

// Set implements flag.Value.
func (f *Format) Set(s string) error {
	switch strings.ToLower(s) {
	case "json":
		*f = FormatJSON
		return nil
	case "console":
		*f = FormatConsole
		return nil
	default:
		return fmt.Errorf("invalid format %q", s)
	}
}

// String implements flag.Value.
func (f *Format) String() string { return string(*f) }

// Type returns the flag.Value type name.
func (l *Level) Type() string { return "logLevel" }

// Set implements flag.Value.
func (l *Level) Set(s string) error {
	switch strings.ToLower(s) {
	case "info":
		*l = InfoLevel
		return nil
	case "debug":
		*l = DebugLevel
		return nil
	case "error":
		*l = ErrorLevel
		return nil
	default:
		return fmt.Errorf("invalid level %q", s)
	}
}

// String implements flag.Value.
func (l *Level) String() string { return string(*l) }
