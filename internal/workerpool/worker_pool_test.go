package workerpool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	return NewFactory(Params{Logger: zap.NewNop()})
}

func TestPoolRejectsNonPositiveSize(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.Pool("heartbeats", 0)
	assert.ErrorIs(t, err, ErrInvalidPoolSize)
}

func TestPoolCreatesAndReuses(t *testing.T) {
	f := newTestFactory(t)
	p1, err := f.Pool("heartbeats", 2)
	require.NoError(t, err)
	p2, err := f.Pool("heartbeats", 2)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestSubmitRunsTaskAndRecordsExecution(t *testing.T) {
	f := newTestFactory(t)

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	require.NoError(t, f.Submit("snapshots", 2, func() {
		ran = true
		wg.Done()
	}))
	wg.Wait()

	assert.True(t, ran)
	assert.Eventually(t, func() bool { return f.Metrics().ExecutionCount("snapshots") == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubmitTaskRecordsFailureOnError(t *testing.T) {
	f := newTestFactory(t)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, f.SubmitTask("stats-log", 2, func() error {
		defer wg.Done()
		return errors.New("boom")
	}))
	wg.Wait()

	assert.Eventually(t, func() bool { return f.Metrics().ExecutionCount("stats-log") == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.Metrics().SuccessRate("stats-log") == 0 }, time.Second, 5*time.Millisecond)
}

func TestStatsReportsRunningAndCapacity(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.Pool("heartbeats", 4)
	require.NoError(t, err)

	_, capacity, ok := f.Stats("heartbeats")
	assert.True(t, ok)
	assert.Equal(t, 4, capacity)
}

func TestStatsUnknownPoolIsNotOK(t *testing.T) {
	f := newTestFactory(t)
	_, _, ok := f.Stats("never-created")
	assert.False(t, ok)
}

func TestReleaseClearsPools(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.Pool("heartbeats", 2)
	require.NoError(t, err)

	f.Release()

	_, _, ok := f.Stats("heartbeats")
	assert.False(t, ok)
}
