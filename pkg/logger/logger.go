// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
)

type Logger struct {
	prefix string
}

var (
	mu           sync.RWMutex
	baseLogger   = log.New(io.MultiWriter(os.Stdout, recent), "", log.LstdFlags)
	logFile      *os.File
	debugEnabled atomic.Bool

	// recent keeps the tail of the log in memory for the web service,
	// so it works with or without a log file.
	recent = newRing(250)
)

// Init points the base logger at stdout and, when logPath is not empty,
// an append-mode log file. Safe to call more than once; the last call wins.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	writers := []io.Writer{os.Stdout, recent}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		writers = append(writers, f)
	}
	baseLogger = log.New(io.MultiWriter(writers...), "", log.LstdFlags)
	return nil
}

// SetOutput replaces every destination with w. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = log.New(io.MultiWriter(w, recent), "", log.LstdFlags)
}

// Writer exposes the current destination, e.g. for HTTP access logs.
func Writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger.Writer()
}

// Close cleans up the log file (call on shutdown)
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// EnableDebug turns per-iteration diagnostics on/off (the -v flag)
func EnableDebug(on bool) {
	debugEnabled.Store(on)
}

// IsDebug returns current debug state
func IsDebug() bool {
	return debugEnabled.Load()
}

func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

func (l *Logger) output(level, formatted string) {
	mu.RLock()
	base := baseLogger
	mu.RUnlock()
	base.Printf("[%s] %s: %s", l.prefix, level, formatted)
}

func (l *Logger) Info(fmtstr string, v ...any) {
	l.output("INFO", fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Warn(fmtstr string, v ...any) {
	l.output("WARN", fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Error(fmtstr string, v ...any) {
	formatted := fmt.Sprintf(fmtstr, v...)
	if _, file, line, ok := runtime.Caller(1); ok {
		formatted = fmt.Sprintf("(%s:%d) %s", filepath.Base(file), line, formatted)
	}
	l.output("ERROR", formatted)
}

func (l *Logger) Debug(fmtstr string, v ...any) {
	if !debugEnabled.Load() {
		return
	}
	l.output("DEBUG", fmt.Sprintf(fmtstr, v...))
}

// Recent returns up to n of the most recent log lines, oldest first.
func Recent(n int) []string {
	return recent.lines(n)
}
