// Copyright 2026 The sngraz Authors
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

package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger for structured logging throughout the application
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger
func NewLogger(debug bool) *Logger {
	var level slog.Level
	if debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a new JSON structured logger (useful for production/log aggregation)
func NewJSONLogger(debug bool) *Logger {
	var level slog.Level
	if debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithComponent returns a logger with a component field pre-set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

// WithMeterID returns a logger with a meter_id field pre-set
func (l *Logger) WithMeterID(meterID int) *Logger {
	return &Logger{
		Logger: l.Logger.With("meter_id", meterID),
	}
}

// maskEmail hides most of an email address for log output
func maskEmail(email string) string {
	if len(email) > 3 {
		return email[:3] + "***"
	}
	return email
}

// WithEmail returns a logger with an email field pre-set.
// The address is masked for privacy (show only a short prefix).
func (l *Logger) WithEmail(email string) *Logger {
	return &Logger{
		Logger: l.Logger.With("email", maskEmail(email)),
	}
}

// LogAPIRequest logs an API request with common fields
func (l *Logger) LogAPIRequest(method, endpoint string, statusCode int, duration float64) {
	l.Info("API request",
		"method", method,
		"endpoint", endpoint,
		"status_code", statusCode,
		"duration_ms", duration*1000,
	)
}

// LogAPIError logs an API error with details
func (l *Logger) LogAPIError(err error, endpoint string) {
	if apiErr, ok := err.(*APIError); ok {
		l.Error("API request failed",
			"endpoint", endpoint,
			"status_code", apiErr.StatusCode,
			"retryable", apiErr.Retryable,
			"error", apiErr.Message,
		)
	} else {
		l.Error("API request failed",
			"endpoint", endpoint,
			"error", err.Error(),
		)
	}
}

// LogReadingFetch logs a completed reading fetch for a meter
func (l *Logger) LogReadingFetch(meterID int, interval string, count int, days int) {
	l.Info("Fetched meter readings",
		"meter_id", meterID,
		"interval", interval,
		"readings", count,
		"days", days,
	)
}

// LogCacheHit logs a cache hit
func (l *Logger) LogCacheHit(cacheType string, age float64) {
	l.Debug("Cache hit",
		"cache_type", cacheType,
		"age_seconds", age,
	)
}

// LogCacheMiss logs a cache miss
func (l *Logger) LogCacheMiss(cacheType string, reason string) {
	l.Debug("Cache miss",
		"cache_type", cacheType,
		"reason", reason,
	)
}

// UserMessage outputs a user-friendly message (bypasses structured logging)
// Use this for primary user-facing output in non-daemon mode
func (l *Logger) UserMessage(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

// UserMessagef outputs a user-friendly message without newline
func (l *Logger) UserMessagef(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}
