// Package logging wraps log/slog with the teacher's component-logger
// convention: every long-lived piece of the engine gets a handle tagged
// with its own name instead of reaching for a package-level global.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

var (
	baseMu     sync.RWMutex
	baseLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// SetBase swaps the shared handler every component logger is built on top
// of. Call this once at process startup (e.g. from cmd/orchestrator) to
// honor a configured log level or output stream.
func SetBase(l *slog.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	baseLogger = l
}

func base() *slog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return baseLogger
}

// Logger is a component-scoped handle over the shared slog logger.
type Logger struct {
	component string
	l         *slog.Logger
}

// NewComponentLogger returns a Logger tagged with component.
func NewComponentLogger(component string) *Logger {
	return &Logger{component: component, l: base().With(slog.String("component", component))}
}

// Debug/Info/Warn/Error accept a printf-style format plus args, matching the
// teacher's ComponentLogger convenience methods.
func (c *Logger) Debug(format string, args ...any) { c.l.Debug(fmt.Sprintf(format, args...)) }
func (c *Logger) Info(format string, args ...any)  { c.l.Info(fmt.Sprintf(format, args...)) }
func (c *Logger) Warn(format string, args ...any)  { c.l.Warn(fmt.Sprintf(format, args...)) }
func (c *Logger) Error(format string, args ...any) { c.l.Error(fmt.Sprintf(format, args...)) }

// With returns a derived Logger carrying additional structured attributes.
func (c *Logger) With(args ...any) *Logger {
	return &Logger{component: c.component, l: c.l.With(args...)}
}
