// Package logging provides the structured logger used by every lattice
// component.
//
// Each component gets a named logger:
//
//	logger := logging.GetLogger("network")
//	logger.Info("listening on %s", addr)
//	logger.InfoWithFields("peer connected",
//	    logging.Field("peer", remote),
//	    logging.Field("version", version),
//	)
//
// Child loggers carry persistent fields:
//
//	peerLogger := logger.WithField("peer", remote)
//
// # Levels
//
// The default level is set with Initialize and can be changed at runtime with
// SetLevel (the config watcher does this on reload). Per-package overrides use
// exact names or wildcard patterns:
//
//	logging.Initialize("info", map[string]string{
//	    "lifecycle.*": "debug",
//	    "telemetry":   "warn",
//	})
//
// Loggers read the current levels on every call, so a logger obtained at
// startup follows later changes.
//
// # Context
//
// WithContext attaches a context. The trace and span ids of an active
// OpenTelemetry span, or values stored under TraceIDKey/SpanIDKey, are added
// to every line.
//
// # Testing
//
// LOG_TIMESTAMP replaces the timestamp for deterministic output, and
// SetOutput redirects both streams.
package logging

import (
	"context"
	"os"
	"sync/atomic"
)

var (
	// defaultLevel is read by every logger without a package override.
	defaultLevel atomic.Int32

	// exitFunc is called by Fatal. Overridden in tests.
	exitFunc = os.Exit
)

func init() {
	defaultLevel.Store(int32(INFO))
}

// Initialize sets the default level and optional per-package overrides.
// An unknown level falls back to INFO.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}
	defaultLevel.Store(int32(level))

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		if err := SetPackageLogLevels(packageLevels[0]); err != nil {
			return err
		}
	}

	return nil
}

// SetLevel changes the default level at runtime.
func SetLevel(levelStr string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		return err
	}
	defaultLevel.Store(int32(level))
	return nil
}

// Level returns the current default level.
func Level() LogLevel {
	return LogLevel(defaultLevel.Load())
}

// GetLogger returns a logger with the specified name
func GetLogger(name string) *Logger {
	return &Logger{
		name:   name,
		fields: make(map[string]interface{}),
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	return level >= Level()
}

// Name returns the logger's name.
func (l *Logger) Name() string {
	return l.name
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(levelDebug, msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(levelInfo, msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(levelWarn, msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(levelError, msg, args...)
	}
}

// Fatal logs a fatal message and exits the program with code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.shouldLog(FATAL) {
		l.logf(levelFatal, msg, args...)
		exitFunc(1)
	}
}

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(msg string, err error, args ...interface{}) {
	if l.shouldLog(ERROR) {
		args = append(args, err)
		l.logf(levelError, msg+" - %v", args...)
	}
}

// WithName returns a new logger with a custom name and no fields
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		name:   name,
		fields: make(map[string]interface{}),
		ctx:    l.ctx,
	}
}

// WithField adds a structured field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	child := l.clone()
	child.fields[key] = value
	return child
}

// WithFields adds multiple structured fields to the logger
func (l *Logger) WithFields(fields ...LogField) *Logger {
	child := l.clone()
	for _, f := range fields {
		child.fields[f.Key] = f.Value
	}
	return child
}

// WithContext returns a logger that adds the trace and span ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	child := l.clone()
	child.ctx = ctx
	return child
}

func (l *Logger) clone() *Logger {
	return &Logger{
		name:   l.name,
		fields: cloneFields(l.fields),
		ctx:    l.ctx,
	}
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	if l.shouldLog(DEBUG) {
		l.logWithFields(levelDebug, msg, fields...)
	}
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.logWithFields(levelInfo, msg, fields...)
	}
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.shouldLog(WARN) {
		l.logWithFields(levelWarn, msg, fields...)
	}
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.shouldLog(ERROR) {
		l.logWithFields(levelError, msg, fields...)
	}
}

// mergeFields combines context, persistent and call fields. Last wins.
func (l *Logger) mergeFields(fields []LogField) map[string]interface{} {
	contextFields := extractContextFields(l.ctx)
	if contextFields == nil && len(l.fields) == 0 && len(fields) == 0 {
		return nil
	}

	merged := make(map[string]interface{}, len(contextFields)+len(l.fields)+len(fields))
	for k, v := range contextFields {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return merged
}

func (l *Logger) logWithFields(level, msg string, fields ...LogField) {
	l.writeLog(level, msg, l.mergeFields(fields))
}
