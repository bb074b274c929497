// Package logx provides structured, component-tagged logging for the core
// runtime (token bucket, rate limiter, task store, scheduler engine, event
// dispatcher).
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity tag.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes leveled, component-tagged lines to an underlying *log.Logger.
type Logger struct {
	component string
	logger    *log.Logger
}

// debugConfig controls which components emit Debug-level output.
//
//nolint:gochecknoglobals // single process-wide debug gate, mirrors env-driven debug config
var (
	debugMu      sync.RWMutex
	debugEnabled bool
	debugDomains map[string]bool // nil = all components
)

func init() { //nolint:gochecknoinits // environment is read once at process start
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("VKBOT_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugEnabled = true
	}

	if domains := os.Getenv("VKBOT_DEBUG_DOMAINS"); domains != "" {
		debugDomains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugDomains[strings.TrimSpace(d)] = true
		}
	}
}

// NewLogger returns a logger tagged with the given component name
// (e.g. "ratelimit", "scheduler", "dispatch").
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

// SetDebug enables or disables debug-level output process-wide.
func SetDebug(enabled bool) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugEnabled = enabled
}

// SetDebugDomains restricts debug output to the named components.
// An empty list re-enables debug output for every component.
func SetDebugDomains(components []string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	if len(components) == 0 {
		debugDomains = nil
		return
	}
	debugDomains = make(map[string]bool, len(components))
	for _, c := range components {
		debugDomains[strings.TrimSpace(c)] = true
	}
}

func debugEnabledFor(component string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugEnabled {
		return false
	}
	if debugDomains == nil {
		return true
	}
	return debugDomains[component]
}

func (l *Logger) log(level Level, format string, args ...any) {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	l.logger.Printf("[%s] [%s] %s: %s", ts, l.component, level, fmt.Sprintf(format, args...))
}

// Debug logs at debug level, gated by VKBOT_DEBUG / VKBOT_DEBUG_DOMAINS.
func (l *Logger) Debug(format string, args ...any) {
	if !debugEnabledFor(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Component returns the tag this logger writes under.
func (l *Logger) Component() string {
	return l.component
}

// With returns a new logger for a sub-component, tagged "parent.child".
func (l *Logger) With(sub string) *Logger {
	return &Logger{component: l.component + "." + sub, logger: l.logger}
}
