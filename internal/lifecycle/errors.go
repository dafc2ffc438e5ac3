package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies orchestrator errors. The set is closed.
type Kind int

const (
	// KindUnknownDependency means a descriptor names a dependency that is not in the graph.
	KindUnknownDependency Kind = iota + 1
	// KindCycleDetected means the dependency graph contains a cycle.
	KindCycleDetected
	// KindDuplicateComponent means two descriptors share a name.
	KindDuplicateComponent
	// KindComponentStartFailed means a component's start function returned an error.
	KindComponentStartFailed
	// KindCriticalTaskFailed means a critical task failed or returned before shutdown.
	KindCriticalTaskFailed
	// KindBestEffortTaskFailed means a best-effort task failed. Never fatal.
	KindBestEffortTaskFailed
	// KindShutdownTimeout means tasks were still running when the shutdown deadline elapsed.
	KindShutdownTimeout
	// KindServiceShuttingDown is returned when spawning after the exit signal triggered.
	KindServiceShuttingDown
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindUnknownDependency:
		return "unknown_dependency"
	case KindCycleDetected:
		return "cycle_detected"
	case KindDuplicateComponent:
		return "duplicate_component"
	case KindComponentStartFailed:
		return "component_start_failed"
	case KindCriticalTaskFailed:
		return "critical_task_failed"
	case KindBestEffortTaskFailed:
		return "best_effort_task_failed"
	case KindShutdownTimeout:
		return "shutdown_timeout"
	case KindServiceShuttingDown:
		return "service_shutting_down"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by the orchestrator.
type Error struct {
	Kind      Kind
	Component string
	Task      string
	Cause     error

	// Dependency names the missing component of an UnknownDependency error.
	Dependency string

	// Cycle holds the component path of a detected cycle.
	Cycle []string
	// Abandoned holds the qualified names of tasks that did not exit in time.
	Abandoned []string
}

var (
	// ErrServiceShuttingDown matches any spawn rejected because the service is stopping.
	ErrServiceShuttingDown = &Error{Kind: KindServiceShuttingDown}

	// ErrUnexpectedExit is the cause recorded when a critical task returns nil
	// before the service was asked to stop.
	ErrUnexpectedExit = errors.New("critical task returned before shutdown was requested")
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnknownDependency:
		return fmt.Sprintf("component %q depends on unknown component %q", e.Component, e.Dependency)
	case KindCycleDetected:
		if len(e.Cycle) > 0 {
			return fmt.Sprintf("dependency cycle detected at component %q: %s", e.Component, strings.Join(e.Cycle, " -> "))
		}
		return fmt.Sprintf("dependency cycle detected at component %q", e.Component)
	case KindDuplicateComponent:
		return fmt.Sprintf("component %q is already registered", e.Component)
	case KindComponentStartFailed:
		return fmt.Sprintf("component %q failed to start: %v", e.Component, e.Cause)
	case KindCriticalTaskFailed:
		return fmt.Sprintf("critical task %s/%s failed: %v", e.Component, e.Task, e.Cause)
	case KindBestEffortTaskFailed:
		return fmt.Sprintf("best-effort task %s/%s failed: %v", e.Component, e.Task, e.Cause)
	case KindShutdownTimeout:
		return fmt.Sprintf("shutdown deadline elapsed with %d task(s) still running: %s",
			len(e.Abandoned), strings.Join(e.Abandoned, ", "))
	case KindServiceShuttingDown:
		return "service is shutting down"
	default:
		return fmt.Sprintf("lifecycle error: %v", e.Cause)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind. Component and Task on the target
// narrow the match when set.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Component != "" && t.Component != e.Component {
		return false
	}
	if t.Task != "" && t.Task != e.Task {
		return false
	}
	return true
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return 0
}

// IsKind reports whether err carries an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// Process exit codes for operations tooling.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitDependencyError = 2
	ExitStartFailed     = 3
	ExitCriticalTask    = 4
	ExitShutdownTimeout = 5
)

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindUnknownDependency, KindCycleDetected, KindDuplicateComponent:
		return ExitDependencyError
	case KindComponentStartFailed:
		return ExitStartFailed
	case KindCriticalTaskFailed:
		return ExitCriticalTask
	case KindShutdownTimeout:
		return ExitShutdownTimeout
	default:
		return ExitFailure
	}
}

func newStartFailed(component string, cause error) *Error {
	return &Error{Kind: KindComponentStartFailed, Component: component, Cause: cause}
}

func newTaskFailed(kind Kind, component, task string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Task: task, Cause: cause}
}
