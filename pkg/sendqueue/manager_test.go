package sendqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(ManagerConfig{
		Interval:      time.Millisecond,
		JobTimeout:    time.Second,
		MaxIdleTime:   time.Hour,
		SweepInterval: time.Hour,
	})
}

func TestManagerLazyQueueCreation(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	_, ok := m.GetStatus("0123456789abcdef")
	assert.False(t, ok, "no queue before the first send")

	value, err := m.Add(context.Background(), "0123456789abcdef", func(ctx context.Context) (any, error) {
		return "sent", nil
	}, DefaultPriority)
	require.NoError(t, err)
	assert.Equal(t, "sent", value)

	status, ok := m.GetStatus("0123456789abcdef")
	require.True(t, ok)
	assert.Equal(t, int64(1), status.TotalJobs)
}

func TestManagerQueuesAreIsolated(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	_, err := m.Add(context.Background(), "aaaaaaaaaaaaaaaa", func(ctx context.Context) (any, error) {
		return nil, nil
	}, DefaultPriority)
	require.NoError(t, err)

	_, ok := m.GetStatus("bbbbbbbbbbbbbbbb")
	assert.False(t, ok)

	statusA, ok := m.GetStatus("aaaaaaaaaaaaaaaa")
	require.True(t, ok)
	assert.Equal(t, int64(1), statusA.TotalJobs)
}

func TestManagerAddBulk(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	jobs := []Job{
		func(ctx context.Context) (any, error) { return "a", nil },
		func(ctx context.Context) (any, error) { return "b", nil },
	}
	results := m.AddBulk(context.Background(), "0123456789abcdef", jobs, DefaultPriority)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Value)
	assert.Equal(t, "b", results[1].Value)
}

func TestManagerHighPriorityQueueIsSeparate(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	_, err := m.AddHighPriority(context.Background(), "0123456789abcdef", 1, func(ctx context.Context) (any, error) {
		return nil, nil
	}, 1)
	require.NoError(t, err)

	// The plain queue for the hash stays untouched.
	_, ok := m.GetStatus("0123456789abcdef")
	assert.False(t, ok)
}

func TestManagerRemove(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	_, err := m.Add(context.Background(), "0123456789abcdef", func(ctx context.Context) (any, error) {
		return nil, nil
	}, DefaultPriority)
	require.NoError(t, err)

	m.Remove("0123456789abcdef")

	_, ok := m.GetStatus("0123456789abcdef")
	assert.False(t, ok)
}

func TestManagerPauseResumeClear(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	assert.False(t, m.Pause("0123456789abcdef"), "pause on a missing queue reports false")

	_, err := m.Add(context.Background(), "0123456789abcdef", func(ctx context.Context) (any, error) {
		return nil, nil
	}, DefaultPriority)
	require.NoError(t, err)

	assert.True(t, m.Pause("0123456789abcdef"))
	status, _ := m.GetStatus("0123456789abcdef")
	assert.True(t, status.Paused)

	assert.True(t, m.Resume("0123456789abcdef"))
	status, _ = m.GetStatus("0123456789abcdef")
	assert.False(t, status.Paused)

	assert.Equal(t, 0, m.Clear("0123456789abcdef"))
}
