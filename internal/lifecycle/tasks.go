package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/moolen/lattice/internal/logging"
)

// TaskManager spawns and tracks the asynchronous tasks of one service and joins
// them on shutdown. Tasks run as goroutines on the Go scheduler; cancellation is
// cooperative through the exit signal's context.
type TaskManager struct {
	exit       *ExitSignal
	supervisor *Supervisor
	policy     Policy
	metrics    *Metrics
	logger     *logging.Logger

	mu     sync.Mutex
	nextID TaskID
	tasks  []*taskEntry // spawn order
}

type taskEntry struct {
	info TaskInfo // guarded by TaskManager.mu
	done chan struct{}
}

// NewTaskManager creates a task manager bound to exit. Metrics may be nil.
func NewTaskManager(exit *ExitSignal, supervisor *Supervisor, policy Policy, metrics *Metrics) *TaskManager {
	return &TaskManager{
		exit:       exit,
		supervisor: supervisor,
		policy:     policy,
		metrics:    metrics,
		logger:     logging.GetLogger("lifecycle.tasks"),
	}
}

// Spawn registers t as owned by component and starts it without blocking.
// After the exit signal has triggered, Spawn fails with ServiceShuttingDown and
// the task is never scheduled.
func (m *TaskManager) Spawn(component string, t Task) (TaskID, error) {
	if t.Name == "" {
		return 0, fmt.Errorf("component %s: task must have a non-empty name", component)
	}
	if t.Run == nil {
		return 0, fmt.Errorf("task %s: Run must not be nil", qualify(component, t.Name))
	}

	criticality := m.policy.resolve(component, t)

	var id TaskID
	var entry *taskEntry
	spawned := m.exit.whileActive(func() {
		m.mu.Lock()
		m.nextID++
		id = m.nextID
		entry = &taskEntry{
			info: TaskInfo{
				ID:          id,
				Name:        t.Name,
				Component:   component,
				Criticality: criticality,
				State:       TaskPending,
			},
			done: make(chan struct{}),
		}
		m.tasks = append(m.tasks, entry)
		m.mu.Unlock()

		go m.run(entry, t.Run)
	})
	if !spawned {
		m.logger.Debug("Rejected spawn of %s: service is shutting down", qualify(component, t.Name))
		return 0, &Error{Kind: KindServiceShuttingDown, Component: component, Task: t.Name}
	}

	if m.metrics != nil {
		m.metrics.TasksSpawned.WithLabelValues(component, criticality.String()).Inc()
	}
	m.logger.DebugWithFields("Spawned task",
		logging.Field("task", qualify(component, t.Name)),
		logging.Field("id", id),
		logging.Field("criticality", criticality.String()))
	return id, nil
}

func (m *TaskManager) run(e *taskEntry, fn func(ctx context.Context) error) {
	defer close(e.done)

	info := m.setState(e, TaskRunning, nil)
	if m.metrics != nil {
		m.metrics.TasksRunning.WithLabelValues(info.Component).Inc()
		defer m.metrics.TasksRunning.WithLabelValues(info.Component).Dec()
	}

	err := invoke(m.exit.Context(), fn)

	state := m.supervisor.observe(info, err)
	m.setState(e, state, err)
}

// invoke runs fn, converting a panic into an error.
func invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (m *TaskManager) setState(e *taskEntry, state TaskState, err error) TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.info.State = state
	e.info.Err = err
	return e.info
}

// JoinAll blocks until every spawned task reaches a terminal state or ctx is
// done. Tasks still running at that point are abandoned, not killed, and are
// listed in the report.
func (m *TaskManager) JoinAll(ctx context.Context) *ShutdownReport {
	start := time.Now()

	seen := 0
	for {
		entries := m.entries()
		if !waitEntries(ctx, entries[seen:]) {
			break
		}
		if len(entries) == len(m.entries()) {
			break
		}
		seen = len(entries)
	}

	report := &ShutdownReport{}
	for _, e := range m.entries() {
		select {
		case <-e.done:
			report.Completed = append(report.Completed, m.info(e).QualifiedName())
		default:
			report.Abandoned = append(report.Abandoned, m.info(e).QualifiedName())
		}
	}
	report.Duration = time.Since(start)

	if len(report.Abandoned) > 0 {
		m.logger.WarnWithFields("Abandoning tasks that did not exit before the deadline",
			logging.Field("abandoned", report.Abandoned))
		if m.metrics != nil {
			m.metrics.AbandonedTasks.Set(float64(len(report.Abandoned)))
		}
	}
	return report
}

func waitEntries(ctx context.Context, entries []*taskEntry) bool {
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (m *TaskManager) entries() []*taskEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*taskEntry, len(m.tasks))
	copy(out, m.tasks)
	return out
}

func (m *TaskManager) info(e *taskEntry) TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.info
}

// Tasks returns a snapshot of every spawned task in spawn order.
func (m *TaskManager) Tasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskInfo, 0, len(m.tasks))
	for _, e := range m.tasks {
		out = append(out, e.info)
	}
	return out
}

// Outstanding returns the number of tasks not yet in a terminal state.
func (m *TaskManager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.tasks {
		if !e.info.State.Terminal() {
			n++
		}
	}
	return n
}
