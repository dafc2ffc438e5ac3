package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitSignal_InitialState(t *testing.T) {
	s := NewExitSignal()

	assert.False(t, s.IsTriggered())
	assert.Nil(t, s.Cause())
	assert.NoError(t, s.Context().Err())

	select {
	case <-s.Done():
		t.Fatal("done channel closed before trigger")
	default:
	}
}

func TestExitSignal_TriggerWakesWaiters(t *testing.T) {
	s := NewExitSignal()
	cause := errors.New("boom")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Wait(context.Background()))
		}()
	}

	require.True(t, s.Trigger(cause))
	wg.Wait()

	assert.True(t, s.IsTriggered())
	assert.Equal(t, cause, s.Cause())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)

	// Late observers see the triggered state too
	assert.NoError(t, s.Wait(context.Background()))
}

func TestExitSignal_FirstCauseWins(t *testing.T) {
	s := NewExitSignal()

	const callers = 64
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if s.Trigger(fmt.Errorf("cause-%d", i)) {
				winners.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one trigger must perform the transition")
	require.Error(t, s.Cause())
	assert.Contains(t, s.Cause().Error(), "cause-")
}

func TestExitSignal_NilCauseIsExternalStop(t *testing.T) {
	s := NewExitSignal()
	require.True(t, s.Trigger(nil))
	assert.False(t, s.Trigger(errors.New("late")))
	assert.Nil(t, s.Cause())
}

func TestExitSignal_WaitHonoursContext(t *testing.T) {
	s := NewExitSignal()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.IsTriggered())
}

func TestExitSignal_WhileActive(t *testing.T) {
	s := NewExitSignal()

	ran := false
	assert.True(t, s.whileActive(func() { ran = true }))
	assert.True(t, ran)

	s.Trigger(nil)

	ran = false
	assert.False(t, s.whileActive(func() { ran = true }))
	assert.False(t, ran)
}
