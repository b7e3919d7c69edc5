// Copyright 2022 The gVisor Authors.
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

package log

import (
	"time"

	"golang.org/x/time/rate"
)

type rateLimitedLogger struct {
	// logger is nil when the limiter wraps the global logger, which is then
	// resolved on every call so that SetTarget and SetLevel take effect.
	logger Logger
	limit  *rate.Limiter
}

func (rl *rateLimitedLogger) target() Logger {
	if rl.logger == nil {
		return Log()
	}
	return rl.logger
}

// emit forwards to the target, preserving the caller's frame for
// BasicLoggers.
func (rl *rateLimitedLogger) emit(level Level, format string, v ...any) {
	if !rl.target().IsLogging(level) || !rl.limit.Allow() {
		return
	}
	if bl, ok := rl.target().(*BasicLogger); ok {
		switch level {
		case Debug:
			bl.DebugfAtDepth(2, format, v...)
		case Info:
			bl.InfofAtDepth(2, format, v...)
		default:
			bl.WarningfAtDepth(2, format, v...)
		}
		return
	}
	switch level {
	case Debug:
		rl.target().Debugf(format, v...)
	case Info:
		rl.target().Infof(format, v...)
	default:
		rl.target().Warningf(format, v...)
	}
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	rl.emit(Debug, format, v...)
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	rl.emit(Info, format, v...)
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	rl.emit(Warning, format, v...)
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.target().IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return &rateLimitedLogger{
		limit: rate.NewLimiter(rate.Every(every), 1),
	}
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
