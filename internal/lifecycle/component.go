package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Handle is the opaque object a component returns from its start function.
// Dependents receive it through StartContext.Deps; the Service owns all of them.
type Handle interface{}

// Stopper is implemented by handles that hold resources (files, sockets) which
// must be released after the component's tasks have exited.
// Stop must respect the context deadline.
type Stopper interface {
	Stop(ctx context.Context) error
}

// StartFunc is the startup contract every subsystem implements to be composable.
// It runs synchronously from the builder's perspective. Long-running work is
// returned as tasks (or spawned through sc.Spawner) and must watch its context.
type StartFunc func(ctx context.Context, sc *StartContext) (Handle, []Task, error)

// Descriptor declares a component: its unique name, the components it needs
// started first, and its startup contract.
type Descriptor struct {
	Name      string
	DependsOn []string
	Start     StartFunc

	// StartTimeout bounds the Start call when non-zero.
	StartTimeout time.Duration
}

// Spawner lets a component schedule additional tasks it owns.
type Spawner interface {
	Spawn(t Task) (TaskID, error)
}

// StartContext is passed to every start function. It replaces process-wide
// lookups: everything a component may use is reachable from here.
type StartContext struct {
	// Name is the component being started.
	Name string
	// Deps holds the handles of the declared dependencies, keyed by name.
	Deps map[string]Handle
	// Spawner schedules tasks owned by this component.
	Spawner Spawner
	// Config is the node configuration the service was built with.
	Config *config.Config
	// Logger is named after the component.
	Logger *logging.Logger
	// Registry is where components register their prometheus collectors.
	Registry *prometheus.Registry
	// InstanceID identifies this service instance.
	InstanceID string

	exit *ExitSignal
}

// Done returns a channel closed once the service starts shutting down.
func (sc *StartContext) Done() <-chan struct{} {
	return sc.exit.Done()
}

// Dep returns the handle of dependency name asserted to T.
func Dep[T any](sc *StartContext, name string) (T, error) {
	var zero T
	h, ok := sc.Deps[name]
	if !ok {
		return zero, fmt.Errorf("component %s: dependency %q not declared", sc.Name, name)
	}
	v, ok := h.(T)
	if !ok {
		return zero, fmt.Errorf("component %s: dependency %q has type %T, want %T", sc.Name, name, h, zero)
	}
	return v, nil
}

// componentSpawner binds spawns to the owning component.
type componentSpawner struct {
	component string
	tasks     *TaskManager
}

func (s *componentSpawner) Spawn(t Task) (TaskID, error) {
	return s.tasks.Spawn(s.component, t)
}
