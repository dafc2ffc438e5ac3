package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/moolen/lattice/internal/logging"
)

// Supervisor observes the terminal state of every task and applies the
// fail-fast policy:
//   - a critical task ending in error triggers the exit signal (first cause wins)
//   - a critical task returning nil before shutdown is an unexpected exit, also fatal
//   - a best-effort task ending in error is recorded only
//
// The supervisor never retries. Retrying is up to the task body.
type Supervisor struct {
	exit    *ExitSignal
	metrics *Metrics
	logger  *logging.Logger

	mu        sync.Mutex
	failures  []error // best-effort failures
	secondary []error // fatal causes that lost the race to the primary one
}

// NewSupervisor creates a supervisor that triggers exit on fatal failures. Metrics may be nil.
func NewSupervisor(exit *ExitSignal, metrics *Metrics) *Supervisor {
	return &Supervisor{
		exit:    exit,
		metrics: metrics,
		logger:  logging.GetLogger("lifecycle.supervisor"),
	}
}

// observe classifies a task outcome and returns the task's terminal state.
func (s *Supervisor) observe(info TaskInfo, err error) TaskState {
	stopping := s.exit.IsTriggered()

	if err == nil {
		switch {
		case stopping:
			return TaskCancelled
		case info.Criticality == BestEffort:
			s.logger.Debug("Task %s completed", info.QualifiedName())
			return TaskCompleted
		default:
			s.fatal(info, ErrUnexpectedExit)
			return TaskCompleted
		}
	}

	if stopping && errors.Is(err, context.Canceled) {
		return TaskCancelled
	}

	if info.Criticality == Critical {
		s.fatal(info, err)
		return TaskFailed
	}

	ferr := newTaskFailed(KindBestEffortTaskFailed, info.Component, info.Name, err)
	s.mu.Lock()
	s.failures = append(s.failures, ferr)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TaskFailures.WithLabelValues(info.Component, info.Name, BestEffort.String()).Inc()
	}
	s.logger.WarnWithFields("Best-effort task failed",
		logging.Field("task", info.QualifiedName()),
		logging.Field("error", err.Error()))
	return TaskFailed
}

func (s *Supervisor) fatal(info TaskInfo, cause error) {
	ferr := newTaskFailed(KindCriticalTaskFailed, info.Component, info.Name, cause)
	if s.metrics != nil {
		s.metrics.TaskFailures.WithLabelValues(info.Component, info.Name, Critical.String()).Inc()
	}

	if s.exit.Trigger(ferr) {
		s.logger.ErrorWithFields("Critical task failed, shutting down",
			logging.Field("task", info.QualifiedName()),
			logging.Field("error", cause.Error()))
		return
	}
	s.recordSecondary(ferr)
}

// recordSecondary keeps an error that happened after the primary cause was set.
func (s *Supervisor) recordSecondary(err error) {
	s.mu.Lock()
	s.secondary = append(s.secondary, err)
	s.mu.Unlock()
	s.logger.Warn("Recorded secondary failure: %v", err)
}

// Cause returns the primary fatal cause, nil if none (or the service was stopped externally).
func (s *Supervisor) Cause() error {
	return s.exit.Cause()
}

// Failures returns the recorded best-effort failures.
func (s *Supervisor) Failures() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.failures))
	copy(out, s.failures)
	return out
}

// Secondary returns fatal causes recorded after the primary one.
func (s *Supervisor) Secondary() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.secondary))
	copy(out, s.secondary)
	return out
}
