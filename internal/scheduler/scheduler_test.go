package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aniiisha-23/alertiq/internal/model"
)

type countingRunner struct {
	passes atomic.Int64
	block  chan struct{}
}

func (r *countingRunner) RunOnce(ctx context.Context) (model.RunStats, error) {
	r.passes.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	return model.RunStats{Fetched: 1, Succeeded: 1}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestStartRunsInitialPass(t *testing.T) {
	runner := &countingRunner{}
	sched := New(60*time.Minute, runner)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	waitFor(t, func() bool { return runner.passes.Load() == 1 })

	waitFor(t, func() bool {
		last, stats := sched.LastRun()
		return !last.IsZero() && stats.Succeeded == 1
	})
}

func TestSchedulerRestart(t *testing.T) {
	runner := &countingRunner{}
	sched := New(60*time.Minute, runner)

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.NextRun().IsZero())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.NextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NoError(t, sched.Stop())
}

func TestDoubleStartFails(t *testing.T) {
	sched := New(60*time.Minute, &countingRunner{})

	require.NoError(t, sched.Start())
	defer sched.Stop()

	assert.Error(t, sched.Start())
}

func TestStopIsIdempotent(t *testing.T) {
	sched := New(60*time.Minute, &countingRunner{})

	require.NoError(t, sched.Start())
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}

func TestRejectsSubMinuteInterval(t *testing.T) {
	sched := New(30*time.Second, &countingRunner{})
	assert.Error(t, sched.Start())
}

func TestStopCancelsInFlightPass(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{})}
	sched := New(60*time.Minute, runner)

	require.NoError(t, sched.Start())
	waitFor(t, func() bool { return runner.passes.Load() == 1 })

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
