/*
 * Copyright (c) 2024, NVIDIA CORPORATION.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package log wraps logrus behind a small interface so the rest of the
// tree never imports it directly, mirroring internal/logger's klog
// adapter in the teacher.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal surface the library's packages depend on.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type logrusLogger struct {
	*logrus.Logger
}

// New builds a Logger whose level is derived from a VERBOSE setting of
// 0..3, matching spec.md's "Diagnostics go to the standard error stream
// when verbose >= 1... trace each allocation at verbose >= 3".
func New(verbose int) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(levelFor(verbose))
	return &logrusLogger{l}
}

func levelFor(verbose int) logrus.Level {
	switch {
	case verbose <= 0:
		return logrus.WarnLevel
	case verbose == 1:
		return logrus.InfoLevel
	case verbose == 2:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// Discard is a Logger that drops everything, used by package tests and
// by callers that never set VERBOSE.
var Discard Logger = &logrusLogger{discardLogger()}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
