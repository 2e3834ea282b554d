// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package logging

import (
	"context"
	"io"
	"math/rand"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger is a JSON structured logger backed by zap.
type StructuredLogger struct {
	level        Level
	output       io.Writer
	fields       []Field
	samplingRate float64
	zl           *zap.Logger
	mu           sync.Mutex
}

func newZapCore(output io.Writer) zapcore.Core {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	// Level gating is done by StructuredLogger.shouldLog; the core itself
	// stays open at debug so sampling and runtime SetLevel changes apply
	// above zap rather than baking a fixed level into the core.
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(zapcore.AddSync(output)), zapcore.DebugLevel)
}

// NewStructuredLogger creates a new structured logger.
func NewStructuredLogger(level Level) *StructuredLogger {
	return &StructuredLogger{
		level:        level,
		output:       os.Stdout,
		fields:       []Field{},
		samplingRate: 1.0, // No sampling by default
		zl:           zap.New(newZapCore(os.Stdout)),
	}
}

// NewStructuredLoggerWithOutput creates a logger with custom output.
func NewStructuredLoggerWithOutput(level Level, output io.Writer) *StructuredLogger {
	return &StructuredLogger{
		level:        level,
		output:       output,
		fields:       []Field{},
		samplingRate: 1.0,
		zl:           zap.New(newZapCore(output)),
	}
}

// Debug logs a debug message.
func (l *StructuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	if !l.shouldLog(LevelDebug) {
		return
	}

	// Apply sampling for debug logs
	if l.level == LevelDebug && l.samplingRate < 1.0 {
		if rand.Float64() > l.samplingRate {
			return
		}
	}

	l.log(ctx, LevelDebug, msg, fields...)
}

// Info logs an informational message.
func (l *StructuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	if !l.shouldLog(LevelInfo) {
		return
	}
	l.log(ctx, LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *StructuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	if !l.shouldLog(LevelWarn) {
		return
	}
	l.log(ctx, LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *StructuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	if !l.shouldLog(LevelError) {
		return
	}
	l.log(ctx, LevelError, msg, fields...)
}

// Fatal logs a fatal message and exits.
func (l *StructuredLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelFatal, msg, fields...)
	os.Exit(1)
}

// With creates a child logger with persistent fields.
func (l *StructuredLogger) With(fields ...Field) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)

	return &StructuredLogger{
		level:        l.level,
		output:       l.output,
		fields:       newFields,
		samplingRate: l.samplingRate,
		zl:           l.zl,
	}
}

// SetLevel sets the minimum log level.
func (l *StructuredLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetSamplingRate sets the sampling rate for debug logs.
func (l *StructuredLogger) SetSamplingRate(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rate < 0.0 {
		rate = 0.0
	}
	if rate > 1.0 {
		rate = 1.0
	}

	l.samplingRate = rate
}

// shouldLog checks if a message should be logged based on level.
func (l *StructuredLogger) shouldLog(level Level) bool {
	return levelPriority(level) >= levelPriority(l.level)
}

// log builds the zap field set from context, persistent, and call-site
// fields, and emits the entry through the zap core.
func (l *StructuredLogger) log(ctx context.Context, level Level, msg string, fields ...Field) {
	zfields := make([]zap.Field, 0, len(l.fields)+len(fields)+4)
	for _, f := range extractContextFields(ctx) {
		zfields = append(zfields, zap.Any(f.Key, f.Value))
	}

	l.mu.Lock()
	for _, f := range l.fields {
		zfields = append(zfields, zap.Any(f.Key, f.Value))
	}
	l.mu.Unlock()

	for _, f := range fields {
		zfields = append(zfields, zap.Any(f.Key, f.Value))
	}

	switch level {
	case LevelDebug:
		l.zl.Debug(msg, zfields...)
	case LevelWarn:
		l.zl.Warn(msg, zfields...)
	case LevelError, LevelFatal:
		l.zl.Error(msg, zfields...)
	default:
		l.zl.Info(msg, zfields...)
	}
}
