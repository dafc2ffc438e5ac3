package lifecycle

import (
	"context"
	"fmt"
	"strings"
)

// Criticality decides whether a task's failure brings the service down.
type Criticality int

const (
	// Critical tasks are expected to run until cancelled. An error, or an early
	// successful return, triggers the exit signal.
	Critical Criticality = iota
	// BestEffort task failures are recorded but never fatal.
	BestEffort
)

// String returns the string representation of Criticality
func (c Criticality) String() string {
	switch c {
	case Critical:
		return "critical"
	case BestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}

// ParseCriticality parses "critical" or "best-effort" (also "best_effort", "besteffort").
func ParseCriticality(s string) (Criticality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical, nil
	case "best-effort", "best_effort", "besteffort":
		return BestEffort, nil
	default:
		return 0, fmt.Errorf("invalid criticality %q (must be critical or best-effort)", s)
	}
}

// TaskState is the lifecycle state of a spawned task.
type TaskState int

const (
	// TaskPending means the task is registered but its body has not started.
	TaskPending TaskState = iota
	// TaskRunning means the task body is executing.
	TaskRunning
	// TaskCompleted means the body returned nil before shutdown.
	TaskCompleted
	// TaskFailed means the body returned an error (or panicked).
	TaskFailed
	// TaskCancelled means the body returned after observing the exit signal.
	TaskCancelled
)

// String returns the string representation of TaskState
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a named unit of asynchronous work owned by one component.
// Run receives a context that is cancelled when the exit signal triggers and
// must return promptly after that.
type Task struct {
	Name        string
	Criticality Criticality
	Run         func(ctx context.Context) error
}

// TaskID identifies a spawned task within a service.
type TaskID uint64

// TaskInfo is a point-in-time view of a spawned task.
type TaskInfo struct {
	ID          TaskID
	Name        string
	Component   string
	Criticality Criticality
	State       TaskState
	Err         error
}

// QualifiedName returns "component/task".
func (i TaskInfo) QualifiedName() string {
	return qualify(i.Component, i.Name)
}

func qualify(component, task string) string {
	return component + "/" + task
}

// Policy overrides the declared criticality of tasks. Keys are either a
// component name (applies to all its tasks) or "component/task".
// The more specific key wins.
type Policy map[string]Criticality

// ParsePolicy converts the string form used in configuration files.
func ParsePolicy(raw map[string]string) (Policy, error) {
	p := make(Policy, len(raw))
	for key, value := range raw {
		c, err := ParseCriticality(value)
		if err != nil {
			return nil, fmt.Errorf("criticality for %q: %w", key, err)
		}
		p[key] = c
	}
	return p, nil
}

// resolve returns the effective criticality for a task.
func (p Policy) resolve(component string, t Task) Criticality {
	if c, ok := p[qualify(component, t.Name)]; ok {
		return c
	}
	if c, ok := p[component]; ok {
		return c
	}
	return t.Criticality
}
