package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRollbackGrace is how long each started component gets to release its
// resources when a build is aborted, or when Stop's deadline ran out while
// joining tasks.
const DefaultRollbackGrace = 5 * time.Second

type buildOptions struct {
	registry      *prometheus.Registry
	policy        Policy
	rollbackGrace time.Duration
	tracer        trace.Tracer
	instanceID    string
}

// tracerFor returns the configured tracer, else one from the current global
// provider. The lookup happens per component so that a tracing component
// started earlier in the same build is picked up.
func (o *buildOptions) tracerFor() trace.Tracer {
	if o.tracer != nil {
		return o.tracer
	}
	return otel.Tracer("github.com/moolen/lattice/internal/lifecycle")
}

// Option configures Build.
type Option func(*buildOptions)

// WithRegistry sets the prometheus registry used by the service and its components.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) { o.registry = reg }
}

// WithPolicy overrides the declared criticality of tasks.
func WithPolicy(p Policy) Option {
	return func(o *buildOptions) { o.policy = p }
}

// WithRollbackGrace sets the per-component grace period used when a build
// aborts and when Stop has no deadline left for component handles.
func WithRollbackGrace(d time.Duration) Option {
	return func(o *buildOptions) { o.rollbackGrace = d }
}

// WithTracer sets the tracer used for component start spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *buildOptions) { o.tracer = t }
}

// WithInstanceID sets the service instance identifier (default: random UUID).
func WithInstanceID(id string) Option {
	return func(o *buildOptions) { o.instanceID = id }
}

// Build resolves the graph and starts every component in dependency order.
//
// Validation happens before anything is started, so an invalid graph never
// leaves partial state behind. If a start function fails (or a critical task of
// an already started component fails while the build is still running), the
// build aborts: the exit signal is triggered, spawned tasks get the rollback
// grace to exit, started components are stopped in reverse start order, and
// ComponentStartFailed (or the critical task failure) is returned. Components
// after the failing one are never started.
func Build(ctx context.Context, g *Graph, cfg *config.Config, opts ...Option) (*Service, error) {
	o := buildOptions{
		rollbackGrace: DefaultRollbackGrace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	if o.instanceID == "" {
		o.instanceID = uuid.NewString()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	logger := logging.GetLogger("lifecycle.builder").WithField("instance", o.instanceID)

	order, err := g.Resolve()
	if err != nil {
		logger.Error("Invalid component graph: %v", err)
		return nil, err
	}
	logger.Info("Resolved start order: %v", order)

	exit := NewExitSignal()
	metrics := NewMetrics(o.registry)
	supervisor := NewSupervisor(exit, metrics)
	tasks := NewTaskManager(exit, supervisor, o.policy, metrics)
	svc := newService(o.instanceID, exit, tasks, supervisor, o.registry)
	if o.rollbackGrace > 0 {
		svc.stopGrace = o.rollbackGrace
	}

	abort := func(cause error) (*Service, error) {
		svc.rollback(cause, o.rollbackGrace)
		return nil, cause
	}

	for _, name := range order {
		if exit.IsTriggered() {
			logger.Error("Aborting build before %s: %v", name, exit.Cause())
			return abort(exit.Cause())
		}
		if err := ctx.Err(); err != nil {
			return abort(newStartFailed(name, err))
		}

		d, _ := g.Descriptor(name)
		deps := make(map[string]Handle, len(d.DependsOn))
		for _, dep := range d.DependsOn {
			deps[dep], _ = svc.Handle(dep)
		}

		sc := &StartContext{
			Name:       name,
			Deps:       deps,
			Spawner:    &componentSpawner{component: name, tasks: tasks},
			Config:     cfg,
			Logger:     logging.GetLogger(name),
			Registry:   o.registry,
			InstanceID: o.instanceID,
			exit:       exit,
		}

		logger.Info("Starting %s", name)
		startTime := time.Now()

		handle, taskList, err := startComponent(ctx, o.tracerFor(), d, sc)
		metrics.ComponentStartup.WithLabelValues(name).Observe(time.Since(startTime).Seconds())
		if err != nil {
			logger.Error("Failed to start %s: %v", name, err)
			return abort(newStartFailed(name, err))
		}

		svc.register(name, handle)

		for _, t := range taskList {
			if _, err := tasks.Spawn(name, t); err != nil {
				if errors.Is(err, ErrServiceShuttingDown) && exit.Cause() != nil {
					return abort(exit.Cause())
				}
				return abort(newStartFailed(name, fmt.Errorf("spawn task %s: %w", t.Name, err)))
			}
		}

		logger.Info("%s started successfully (took %dms, %d task(s))",
			name, time.Since(startTime).Milliseconds(), len(taskList))
	}

	if exit.IsTriggered() && exit.Cause() != nil {
		return abort(exit.Cause())
	}

	svc.arm()
	logger.Info("All %d components started", len(order))
	return svc, nil
}

// startComponent runs a start function inside a span, bounded by the
// descriptor's StartTimeout, converting panics into errors.
func startComponent(ctx context.Context, tracer trace.Tracer, d Descriptor, sc *StartContext) (h Handle, tasks []Task, err error) {
	ctx, span := tracer.Start(ctx, "lifecycle.start_component",
		trace.WithAttributes(
			attribute.String("component", d.Name),
			attribute.StringSlice("depends_on", d.DependsOn),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if d.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.StartTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start panicked: %v", r)
		}
	}()

	return d.Start(ctx, sc)
}
