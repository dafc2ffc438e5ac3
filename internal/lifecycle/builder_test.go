package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder tracks the order of start and stop calls across components.
type recorder struct {
	mu     sync.Mutex
	starts []string
	stops  []string
}

func (r *recorder) started(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, name)
}

func (r *recorder) stopped(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, name)
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.starts...), append([]string(nil), r.stops...)
}

type stopHandle struct {
	name string
	rec  *recorder
	err  error
	wait time.Duration
}

func (h *stopHandle) Stop(ctx context.Context) error {
	if h.wait > 0 {
		select {
		case <-time.After(h.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.rec.stopped(h.name)
	return h.err
}

// recorded returns a descriptor whose start records itself, checks that its
// dependencies are present, and runs the given tasks.
func recorded(rec *recorder, name string, deps []string, tasks ...Task) Descriptor {
	return Descriptor{
		Name:      name,
		DependsOn: deps,
		Start: func(ctx context.Context, sc *StartContext) (Handle, []Task, error) {
			for _, d := range deps {
				if _, err := Dep[*stopHandle](sc, d); err != nil {
					return nil, nil, err
				}
			}
			rec.started(name)
			return &stopHandle{name: name, rec: rec}, tasks, nil
		},
	}
}

func TestBuild_StartsInDependencyOrder(t *testing.T) {
	rec := &recorder{}
	g := NewGraph()
	g.MustAdd(recorded(rec, "rpc", []string{"client", "txpool", "network"}))
	g.MustAdd(recorded(rec, "network", []string{"client"}, Task{Name: "accept", Run: untilCancelled}))
	g.MustAdd(recorded(rec, "txpool", []string{"client"}))
	g.MustAdd(recorded(rec, "client", nil, Task{Name: "import-queue", Run: untilCancelled}))

	svc, err := Build(context.Background(), g, nil)
	require.NoError(t, err)

	starts, _ := rec.snapshot()
	assert.Equal(t, []string{"client", "txpool", "network", "rpc"}, starts)
	assert.Equal(t, starts, svc.Components())
	assert.NotEmpty(t, svc.InstanceID())

	report := svc.StopWithTimeout(5 * time.Second)
	require.NotNil(t, report)
	assert.True(t, report.Clean())

	_, stops := rec.snapshot()
	assert.Equal(t, []string{"rpc", "network", "txpool", "client"}, stops)
}

func TestBuild_InvalidGraphStartsNothing(t *testing.T) {
	rec := &recorder{}
	g := NewGraph()
	g.MustAdd(recorded(rec, "client", nil))
	g.MustAdd(recorded(rec, "a", []string{"b"}))
	g.MustAdd(recorded(rec, "b", []string{"a"}))

	svc, err := Build(context.Background(), g, nil)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.True(t, IsKind(err, KindCycleDetected))
	assert.Equal(t, ExitDependencyError, ExitCode(err))

	starts, _ := rec.snapshot()
	assert.Empty(t, starts)
}

func TestBuild_StartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	var clientTaskExited atomic.Bool

	g := NewGraph()
	g.MustAdd(recorded(rec, "client", nil, Task{Name: "import-queue", Run: func(ctx context.Context) error {
		<-ctx.Done()
		clientTaskExited.Store(true)
		return ctx.Err()
	}}))
	g.MustAdd(Descriptor{
		Name:      "network",
		DependsOn: []string{"client"},
		Start: func(ctx context.Context, sc *StartContext) (Handle, []Task, error) {
			return nil, nil, fmt.Errorf("listen /ip4/0.0.0.0/tcp/30333: %w", syscall.EADDRINUSE)
		},
	})
	g.MustAdd(recorded(rec, "txpool", []string{"client"}))
	g.MustAdd(recorded(rec, "rpc", []string{"client", "txpool", "network"}))

	svc, err := Build(context.Background(), g, nil, WithRollbackGrace(time.Second))
	require.Error(t, err)
	assert.Nil(t, svc)

	assert.ErrorIs(t, err, &Error{Kind: KindComponentStartFailed, Component: "network"})
	assert.ErrorIs(t, err, syscall.EADDRINUSE)
	assert.Equal(t, ExitStartFailed, ExitCode(err))

	starts, stops := rec.snapshot()
	assert.Equal(t, []string{"client"}, starts, "txpool and rpc must never start")
	assert.Equal(t, []string{"client"}, stops)
	assert.True(t, clientTaskExited.Load(), "client task must observe the exit signal")
}

func TestBuild_StartPanicIsStartFailure(t *testing.T) {
	g := NewGraph()
	g.MustAdd(Descriptor{Name: "txpool", Start: func(ctx context.Context, sc *StartContext) (Handle, []Task, error) {
		panic("bad capacity")
	}})

	_, err := Build(context.Background(), g, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindComponentStartFailed))
	assert.Contains(t, err.Error(), "bad capacity")
}

func TestBuild_StartTimeout(t *testing.T) {
	g := NewGraph()
	g.MustAdd(Descriptor{
		Name:         "network",
		StartTimeout: 30 * time.Millisecond,
		Start: func(ctx context.Context, sc *StartContext) (Handle, []Task, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		},
	})

	start := time.Now()
	_, err := Build(context.Background(), g, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsKind(err, KindComponentStartFailed))
}

func TestBuild_CriticalFailureDuringBuildAborts(t *testing.T) {
	rec := &recorder{}
	failed := make(chan struct{})
	boom := errors.New("database corrupted")

	g := NewGraph()
	g.MustAdd(recorded(rec, "client", nil, Task{Name: "import-queue", Run: func(ctx context.Context) error {
		defer close(failed)
		return boom
	}}))
	g.MustAdd(Descriptor{
		Name:      "network",
		DependsOn: []string{"client"},
		Start: func(ctx context.Context, sc *StartContext) (Handle, []Task, error) {
			<-failed
			select {
			case <-sc.Done():
			case <-time.After(time.Second):
			}
			return &stopHandle{name: "network", rec: rec}, nil, nil
		},
	})
	g.MustAdd(recorded(rec, "rpc", []string{"network"}))

	_, err := Build(context.Background(), g, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsKind(err, KindCriticalTaskFailed))

	starts, stops := rec.snapshot()
	assert.Equal(t, []string{"client"}, starts)
	assert.Equal(t, []string{"network", "client"}, stops)
}

func TestBuild_ManyIndependentComponents(t *testing.T) {
	const n = 50
	rec := &recorder{}
	g := NewGraph()
	for i := 0; i < n; i++ {
		g.MustAdd(recorded(rec, fmt.Sprintf("worker-%02d", i), nil,
			Task{Name: "loop", Criticality: BestEffort, Run: untilCancelled}))
	}

	svc, err := Build(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Len(t, svc.Tasks(), n)

	report := svc.StopWithTimeout(5 * time.Second)
	assert.Len(t, report.Completed, n)
	assert.Empty(t, report.Abandoned)

	_, stops := rec.snapshot()
	require.Len(t, stops, n)
	assert.Equal(t, "worker-49", stops[0])
	assert.Equal(t, "worker-00", stops[n-1])
}

func TestBuild_CancelledContext(t *testing.T) {
	rec := &recorder{}
	g := NewGraph()
	g.MustAdd(recorded(rec, "client", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, g, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	starts, _ := rec.snapshot()
	assert.Empty(t, starts)
}

func TestBuild_SpawnerBindsComponent(t *testing.T) {
	g := NewGraph()
	g.MustAdd(Descriptor{Name: "network", Start: func(ctx context.Context, sc *StartContext) (Handle, []Task, error) {
		_, err := sc.Spawner.Spawn(Task{Name: "dial", Criticality: BestEffort, Run: untilCancelled})
		return nil, nil, err
	}})

	svc, err := Build(context.Background(), g, nil, WithInstanceID("node-1"))
	require.NoError(t, err)
	defer svc.StopWithTimeout(time.Second)

	assert.Equal(t, "node-1", svc.InstanceID())
	require.Len(t, svc.Tasks(), 1)
	assert.Equal(t, "network/dial", svc.Tasks()[0].QualifiedName())
}

func TestDep(t *testing.T) {
	sc := &StartContext{Name: "rpc", Deps: map[string]Handle{"client": &stopHandle{name: "client"}}}

	h, err := Dep[*stopHandle](sc, "client")
	require.NoError(t, err)
	assert.Equal(t, "client", h.name)

	_, err = Dep[*stopHandle](sc, "txpool")
	assert.Error(t, err)

	_, err = Dep[*recorder](sc, "client")
	assert.Error(t, err)
}
