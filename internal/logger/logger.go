// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the runtime's logging. All packages log through the
// package-level severity functions; the sink, format, and threshold are set
// up once via Setup.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/vinipsmaker/iofiber/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Additional severity levels beyond the slog built-ins.
const (
	LevelTrace = slog.Level(-8)
	LevelOff   = slog.Level(12)
)

const (
	textTimeFormat = "2006/01/02 15:04:05.000000"
	messagePrefix  = ""
)

var (
	mu                   sync.Mutex
	defaultLoggerFactory *loggerFactory
	defaultLogger        *slog.Logger
)

func init() {
	defaultLoggerFactory = &loggerFactory{
		sysWriter: os.Stderr,
		format:    string(cfg.FormatText),
		level:     cfg.INFO,
	}
	defaultLogger = defaultLoggerFactory.newLogger()
}

// Setup applies the logging config: severity, format, and an optional
// rotated log file fronted by an asynchronous writer. Returns an error when
// the log file cannot be set up.
func Setup(c cfg.LoggingConfig) error {
	mu.Lock()
	defer mu.Unlock()

	factory := &loggerFactory{
		sysWriter: os.Stderr,
		format:    string(c.Format),
		level:     c.Severity,
	}
	if c.FilePath != "" {
		lj := &lumberjack.Logger{Filename: c.FilePath}
		factory.file = NewAsyncLogger(lj, c.AsyncBufferSize)
	}

	old := defaultLoggerFactory
	defaultLoggerFactory = factory
	defaultLogger = factory.newLogger()
	if old.file != nil {
		if err := old.file.Close(); err != nil {
			return fmt.Errorf("closing previous log file: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the log file sink, if any, reverting to stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if defaultLoggerFactory.file == nil {
		return nil
	}
	file := defaultLoggerFactory.file
	defaultLoggerFactory = &loggerFactory{
		sysWriter: os.Stderr,
		format:    defaultLoggerFactory.format,
		level:     defaultLoggerFactory.level,
	}
	defaultLogger = defaultLoggerFactory.newLogger()
	return file.Close()
}

func Tracef(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	defaultLogger.Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	defaultLogger.Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	defaultLogger.Error(fmt.Sprintf(format, v...))
}

////////////////////////////////////////////////////////////////////////
// Factory
////////////////////////////////////////////////////////////////////////

type loggerFactory struct {
	// file is the async sink wrapping the rotated log file; nil when logging
	// to sysWriter.
	file      *AsyncLogger
	sysWriter io.Writer
	format    string
	level     cfg.LogSeverity
}

func (f *loggerFactory) newLogger() *slog.Logger {
	var programLevel = new(slog.LevelVar)
	logger := slog.New(f.createJsonOrTextHandler(f.writer(), programLevel, messagePrefix))
	setLoggingLevel(f.level, programLevel)
	return logger
}

func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return f.file
	}
	return f.sysWriter
}

func (f *loggerFactory) createJsonOrTextHandler(writer io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: replaceAttrFunc(f.format, prefix),
	}
	if f.format == string(cfg.FormatJSON) {
		return slog.NewJSONHandler(writer, opts)
	}
	return slog.NewTextHandler(writer, opts)
}

func setLoggingLevel(level cfg.LogSeverity, programLevel *slog.LevelVar) {
	switch level {
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(slog.LevelDebug)
	case cfg.INFO:
		programLevel.Set(slog.LevelInfo)
	case cfg.WARNING:
		programLevel.Set(slog.LevelWarn)
	case cfg.ERROR:
		programLevel.Set(slog.LevelError)
	default:
		programLevel.Set(LevelOff)
	}
}

func severityString(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "TRACE"
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// replaceAttrFunc renames the built-in record attributes to the runtime's
// conventions: level becomes severity, the message carries the prefix, and
// time is formatted as a fixed-width string (text) or a seconds/nanos group
// (json).
func replaceAttrFunc(format, prefix string) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			t := a.Value.Time()
			if format == string(cfg.FormatJSON) {
				return slog.Attr{
					Key: "timestamp",
					Value: slog.GroupValue(
						slog.Int64("seconds", t.Unix()),
						slog.Int64("nanos", int64(t.Nanosecond())),
					),
				}
			}
			return slog.String("time", t.Format(textTimeFormat))
		case slog.LevelKey:
			return slog.String("severity", severityString(a.Value.Any().(slog.Level)))
		case slog.MessageKey:
			return slog.String("message", prefix+a.Value.String())
		}
		return a
	}
}
