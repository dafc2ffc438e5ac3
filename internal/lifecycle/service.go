package lifecycle

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/moolen/lattice/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Service is the handle to a running set of components. It owns the task
// manager, the exit signal and every component handle.
type Service struct {
	id         string
	exit       *ExitSignal
	tasks      *TaskManager
	supervisor *Supervisor
	registry   *prometheus.Registry
	logger     *logging.Logger

	mu      sync.RWMutex
	started []string // start order
	handles map[string]Handle

	// stopGrace bounds each handle's Stop once the caller's deadline is spent
	stopGrace time.Duration

	stopOnce sync.Once
	report   *ShutdownReport
}

func newService(id string, exit *ExitSignal, tasks *TaskManager, supervisor *Supervisor, reg *prometheus.Registry) *Service {
	return &Service{
		id:         id,
		exit:       exit,
		tasks:      tasks,
		supervisor: supervisor,
		registry:   reg,
		logger:     logging.GetLogger("lifecycle.service").WithField("instance", id),
		handles:    make(map[string]Handle),
		stopGrace:  DefaultRollbackGrace,
	}
}

func (s *Service) register(name string, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, name)
	s.handles[name] = h
}

// arm installs the safety net: a Service that becomes unreachable without Stop
// still triggers its exit signal so that its tasks wind down.
func (s *Service) arm() {
	runtime.AddCleanup(s, func(exit *ExitSignal) {
		exit.Trigger(nil)
	}, s.exit)
}

// InstanceID returns the identifier of this service instance.
func (s *Service) InstanceID() string {
	return s.id
}

// Registry returns the prometheus registry shared by the service's components.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handle returns the handle of a started component.
func (s *Service) Handle(name string) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[name]
	return h, ok
}

// Handles returns all started component handles.
func (s *Service) Handles() map[string]Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Handle, len(s.handles))
	for k, v := range s.handles {
		out[k] = v
	}
	return out
}

// Components returns the started components in start order.
func (s *Service) Components() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.started))
	copy(out, s.started)
	return out
}

// Tasks returns a snapshot of every task spawned by the service.
func (s *Service) Tasks() []TaskInfo {
	return s.tasks.Tasks()
}

// Spawn schedules a task owned by component on the service's task manager.
func (s *Service) Spawn(component string, t Task) (TaskID, error) {
	return s.tasks.Spawn(component, t)
}

// Failures returns recorded best-effort task failures.
func (s *Service) Failures() []error {
	return s.supervisor.Failures()
}

// Done returns a channel closed when the exit signal triggers.
func (s *Service) Done() <-chan struct{} {
	return s.exit.Done()
}

// WaitForExit blocks until the exit signal triggers, by an internal failure or
// an external stop request, and returns the primary cause (nil on a requested
// stop). If ctx ends first its error is returned.
func (s *Service) WaitForExit(ctx context.Context) error {
	if err := s.exit.Wait(ctx); err != nil {
		return err
	}
	return s.exit.Cause()
}

// Close triggers the exit signal without waiting for tasks.
func (s *Service) Close() {
	if s.exit.Trigger(nil) {
		s.logger.Info("Service closed without waiting for tasks")
	}
}

// StopWithTimeout is Stop with a deadline of now+timeout.
func (s *Service) StopWithTimeout(timeout time.Duration) *ShutdownReport {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}

// Stop triggers the exit signal, waits for tasks until ctx is done, stops
// component handles in reverse start order and returns the shutdown report.
// Tasks that do not exit in time are listed as abandoned; Stop returns anyway.
// If ctx is already done when the handles are stopped, each handle gets the
// rollback grace period instead.
// Subsequent calls return the first report.
func (s *Service) Stop(ctx context.Context) *ShutdownReport {
	s.stopOnce.Do(func() {
		start := time.Now()
		if s.exit.Trigger(nil) {
			s.logger.Info("Stop requested")
		}

		report := s.tasks.JoinAll(ctx)

		// Abandoned tasks may have used up the deadline. Handles still get
		// their own grace period to release resources.
		handleCtx, grace := ctx, time.Duration(0)
		if ctx.Err() != nil {
			handleCtx, grace = context.Background(), s.stopGrace
		}
		stopErrs := s.stopHandles(handleCtx, grace)

		report.Cause = s.exit.Cause()
		report.Secondary = append(s.supervisor.Secondary(), stopErrs...)
		report.Duration = time.Since(start)
		s.report = report

		s.logger.InfoWithFields("Service stopped",
			logging.Field("completed", len(report.Completed)),
			logging.Field("abandoned", len(report.Abandoned)),
			logging.Field("duration_ms", report.Duration.Milliseconds()),
			logging.Field("cause", fmt.Sprint(report.Cause)))
	})
	return s.report
}

// rollback tears down a partially built service.
func (s *Service) rollback(cause error, grace time.Duration) {
	s.exit.Trigger(cause)

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	report := s.tasks.JoinAll(ctx)
	cancel()
	if len(report.Abandoned) > 0 {
		s.logger.Warn("Rollback abandoned %d task(s): %v", len(report.Abandoned), report.Abandoned)
	}

	for _, err := range s.stopHandles(context.Background(), grace) {
		s.supervisor.recordSecondary(err)
	}
}

// stopHandles calls Stop on every started handle that implements Stopper, in
// reverse start order. With grace > 0 each handle gets its own deadline;
// otherwise all share ctx. A handle that does not return before its deadline is
// left behind and reported as an error.
func (s *Service) stopHandles(ctx context.Context, grace time.Duration) []error {
	s.mu.RLock()
	order := make([]string, len(s.started))
	copy(order, s.started)
	s.mu.RUnlock()
	handles := s.Handles()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		stopper, ok := handles[name].(Stopper)
		if !ok {
			continue
		}

		stopCtx, cancel := ctx, context.CancelFunc(func() {})
		if grace > 0 {
			stopCtx, cancel = context.WithTimeout(ctx, grace)
		}

		s.logger.Debug("Stopping %s", name)
		startTime := time.Now()
		err := stopWithin(stopCtx, stopper)
		cancel()

		if err != nil {
			s.logger.Warn("Error stopping %s: %v", name, err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		s.logger.Debug("%s stopped (took %dms)", name, time.Since(startTime).Milliseconds())
	}
	return errs
}

// stopWithin runs Stop and gives up waiting once ctx is done.
func stopWithin(ctx context.Context, stopper Stopper) error {
	done := make(chan error, 1)
	go func() {
		done <- stopper.Stop(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}
