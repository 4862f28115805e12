package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeHeights struct {
	height atomic.Uint32
}

func (f *fakeHeights) GetBlockHeight(context.Context) (uint32, error) {
	return f.height.Load(), nil
}

func TestSchedulerService(t *testing.T) {
	t.Run("Schedule At Height", func(t *testing.T) {
		heights := &fakeHeights{}
		heights.height.Store(100)
		svc := NewScheduler(heights, 50*time.Millisecond)
		svc.Start()
		defer svc.Stop()

		require.Eventually(t, func() bool {
			return svc.(*service).lastHeight() == 100
		}, time.Second, 10*time.Millisecond)

		done := make(chan bool, 1)
		err := svc.ScheduleAtHeight(105, func() {
			done <- true
		})
		require.NoError(t, err)

		// Not yet reached
		select {
		case <-done:
			require.Fail(t, "task executed before target height")
		case <-time.After(200 * time.Millisecond):
		}

		heights.height.Store(105)
		select {
		case <-done:
		case <-time.After(time.Second):
			require.Fail(t, "task did not execute at target height")
		}

		// verify it won't run again
		heights.height.Store(106)
		select {
		case <-done:
			require.Fail(t, "task executed again")
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("Schedule At Past Height", func(t *testing.T) {
		heights := &fakeHeights{}
		heights.height.Store(200)
		svc := NewScheduler(heights, 50*time.Millisecond)
		svc.Start()
		defer svc.Stop()

		require.Eventually(t, func() bool {
			return svc.(*service).lastHeight() == 200
		}, time.Second, 10*time.Millisecond)

		done := make(chan bool, 1)
		require.NoError(t, svc.ScheduleAtHeight(150, func() {
			done <- true
		}))

		select {
		case <-done:
		case <-time.After(time.Second):
			require.Fail(t, "task did not execute")
		}
	})

	t.Run("Invalid Tasks", func(t *testing.T) {
		svc := NewScheduler(&fakeHeights{}, time.Second)

		require.Error(t, svc.ScheduleAtHeight(0, func() {}))
		require.Error(t, svc.ScheduleAtHeight(10, nil))
		require.Error(t, svc.ScheduleEvery(0, func() {}))
		require.Error(t, svc.ScheduleEvery(time.Second, nil))
	})

	t.Run("Schedule Every", func(t *testing.T) {
		svc := NewScheduler(&fakeHeights{}, time.Second)
		svc.Start()
		defer svc.Stop()

		var calls atomic.Int32
		require.NoError(t, svc.ScheduleEvery(100*time.Millisecond, func() {
			calls.Add(1)
		}))

		require.Eventually(t, func() bool {
			return calls.Load() >= 3
		}, 2*time.Second, 20*time.Millisecond)
	})
}
