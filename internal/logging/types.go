package logging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
	// FATAL level for fatal messages
	FATAL
)

const (
	levelDebug = "DEBUG"
	levelInfo  = "INFO"
	levelWarn  = "WARN"
	levelError = "ERROR"
	levelFatal = "FATAL"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return levelDebug
	case INFO:
		return levelInfo
	case WARN:
		return levelWarn
	case ERROR:
		return levelError
	case FATAL:
		return levelFatal
	default:
		return "UNKNOWN"
	}
}

// LogField represents a structured logging field
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger is a named structured logger. Instances are immutable and safe for
// concurrent use.
type Logger struct {
	name   string
	fields map[string]interface{}
	ctx    context.Context
}

// Per-package overrides, keyed by exact name or "prefix.*" pattern.
var (
	packageLogLevels = make(map[string]LogLevel)
	packageLogMutex  sync.RWMutex
)

// SetPackageLogLevels replaces all per-package overrides.
// Returns an error (and leaves the previous overrides in place) if any level is invalid.
func SetPackageLogLevels(levels map[string]string) error {
	parsed := make(map[string]LogLevel, len(levels))
	for pkg, levelStr := range levels {
		level, err := parseLevel(levelStr)
		if err != nil {
			return fmt.Errorf("invalid log level for package %q: %w", pkg, err)
		}
		parsed[pkg] = level
	}

	packageLogMutex.Lock()
	packageLogLevels = parsed
	packageLogMutex.Unlock()
	return nil
}

// GetPackageLogLevel returns the override for a package name: an exact match,
// else the longest matching wildcard pattern, else -1.
func GetPackageLogLevel(packageName string) LogLevel {
	packageLogMutex.RLock()
	defer packageLogMutex.RUnlock()

	if level, exists := packageLogLevels[packageName]; exists {
		return level
	}

	var patterns []string
	for pattern := range packageLogLevels {
		if matchesPattern(packageName, pattern) {
			patterns = append(patterns, pattern)
		}
	}
	if len(patterns) == 0 {
		return LogLevel(-1)
	}

	sort.Slice(patterns, func(i, j int) bool {
		return len(patterns[i]) > len(patterns[j])
	})
	return packageLogLevels[patterns[0]]
}

// matchesPattern reports whether packageName matches pattern.
//
//	matchesPattern("lifecycle.tasks", "lifecycle.tasks") -> true
//	matchesPattern("lifecycle.tasks", "lifecycle.*")     -> true
//	matchesPattern("network", "lifecycle.*")             -> false
func matchesPattern(packageName, pattern string) bool {
	if packageName == pattern {
		return true
	}

	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(packageName, prefix+".")
	}

	return false
}

// ParseLevel converts a level name (any case) to a LogLevel.
func ParseLevel(levelStr string) (LogLevel, error) {
	return parseLevel(levelStr)
}

func parseLevel(levelStr string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case levelDebug:
		return DEBUG, nil
	case levelInfo:
		return INFO, nil
	case levelWarn, "WARNING":
		return WARN, nil
	case levelError:
		return ERROR, nil
	case levelFatal:
		return FATAL, nil
	default:
		return -1, fmt.Errorf("invalid level: %s (must be DEBUG, INFO, WARN, ERROR, or FATAL)", levelStr)
	}
}
