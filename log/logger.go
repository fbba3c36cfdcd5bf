// Package log is a small leveled logger. Lines carry a timestamp
// and a [level] tag; everything below the minimum level is dropped.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LDebug Level = iota
	LStep
	LInfo
	LWarn
	LError
	LFatal
)

var levelNames = map[Level]string{
	LDebug: "debug",
	LStep:  "step",
	LInfo:  "info",
	LWarn:  "warn",
	LError: "error",
	LFatal: "fatal",
}

var std = &logger{out: os.Stderr, min: LStep}

type logger struct {
	mu  sync.Mutex
	out io.Writer
	min Level
}

func (l *logger) logf(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.min {
		return
	}
	fmt.Fprintf(l.out, "[%s] [%s] %s\n",
		time.Now().Format(time.RFC3339),
		levelNames[level],
		fmt.Sprintf(format, v...),
	)
}

func SetMinLevel(lvl Level) {
	std.mu.Lock()
	std.min = lvl
	std.mu.Unlock()
}

// SetOutput redirects all output, for tests.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.mu.Unlock()
}

func Debugf(format string, v ...interface{}) {
	std.logf(LDebug, format, v...)
}

func Infof(format string, v ...interface{}) {
	std.logf(LInfo, format, v...)
}

func Warnf(format string, v ...interface{}) {
	std.logf(LWarn, format, v...)
}

func Errorf(format string, v ...interface{}) {
	std.logf(LError, format, v...)
}

func Fatal(v ...interface{}) {
	std.logf(LFatal, "%s", fmt.Sprint(v...))
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	std.logf(LFatal, format, v...)
	os.Exit(1)
}

// Step logs the start of a named phase and returns a closure that
// logs its duration.
func Step(name string) func() {
	start := time.Now()
	std.logf(LStep, "Starting: %s", name)
	return func() {
		std.logf(LStep, "Finished: %s in %s", name, time.Since(start))
	}
}
