package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clock "k8s.io/utils/clock/testing"
)

func TestBackgroundTaskManager_RunsOnEachTick(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	manager := NewBackgroundTaskManagerWithClock("test_runs_on_each_tick_", fakeClock)

	var runs int32
	manager.Register(func() { atomic.AddInt32(&runs, 1) }, time.Minute, "counter")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, 5*time.Second, time.Millisecond)
	assert.Eventually(t, fakeClock.HasWaiters, 5*time.Second, time.Millisecond)

	fakeClock.Step(time.Minute)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, 5*time.Second, time.Millisecond)

	timedOut := manager.StopAll(5 * time.Second)
	assert.False(t, timedOut)
}

func TestBackgroundTaskManager_SurvivesPanic(t *testing.T) {
	manager := NewBackgroundTaskManagerWithClock("test_survives_panic_", clock.NewFakeClock(time.Now()))

	var runs int32
	manager.Register(func() {
		atomic.AddInt32(&runs, 1)
		panic("boom")
	}, time.Minute, "panicky")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, 5*time.Second, time.Millisecond)
	assert.False(t, manager.StopAll(5*time.Second))
}
