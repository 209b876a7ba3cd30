package log

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// globalLogger is designed as a global logger in current process.
var global = &loggerAppliance{}

// loggerAppliance is the proxy of `Logger` to
// make logger change will affect all sub-logger.
type loggerAppliance struct {
	lock sync.RWMutex
	Logger
}

func init() {
	global.SetLogger(DefaultLogger)
}

func (a *loggerAppliance) SetLogger(in Logger) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.Logger = in
}

func (a *loggerAppliance) current() Logger {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.Logger
}

// SetLogger should be called before any other log call.
// And it is NOT THREAD SAFE.
func SetLogger(logger Logger) {
	global.SetLogger(logger)
}

// GetLogger returns global logger appliance as logger in current process.
func GetLogger() Logger {
	return global.current()
}

// Context with context logger.
func Context(ctx context.Context) *Helper {
	return NewHelper(WithContext(ctx, GetLogger()))
}

// Enabled reports whether the global logger emits the level.
func Enabled(level Level) bool {
	return enabled(GetLogger(), level)
}

// Log Print log by level and keyvals.
func Log(level Level, keyvals ...any) {
	_ = GetLogger().Log(level, keyvals...)
}

// Debug logs a message at debug level.
func Debug(a ...any) {
	NewHelper(GetLogger()).Debug(a...)
}

// Debugf logs a message at debug level.
func Debugf(format string, a ...any) {
	NewHelper(GetLogger()).Debugf(format, a...)
}

// Info logs a message at info level.
func Info(a ...any) {
	NewHelper(GetLogger()).Info(a...)
}

// Infof logs a message at info level.
func Infof(format string, a ...any) {
	NewHelper(GetLogger()).Infof(format, a...)
}

// Warn logs a message at warn level.
func Warn(a ...any) {
	NewHelper(GetLogger()).Warn(a...)
}

// Warnf logs a message at warnf level.
func Warnf(format string, a ...any) {
	NewHelper(GetLogger()).Warnf(format, a...)
}

// Error logs a message at error level.
func Error(a ...any) {
	NewHelper(GetLogger()).Error(a...)
}

// Errorf logs a message at error level.
func Errorf(format string, a ...any) {
	NewHelper(GetLogger()).Errorf(format, a...)
}

// Fatal logs a message at fatal level.
func Fatal(a ...any) {
	_ = GetLogger().Log(LevelFatal, DefaultMessageKey, fmt.Sprint(a...))
	os.Exit(1)
}

// Fatalf logs a message at fatal level.
func Fatalf(format string, a ...any) {
	_ = GetLogger().Log(LevelFatal, DefaultMessageKey, fmt.Sprintf(format, a...))
	os.Exit(1)
}
