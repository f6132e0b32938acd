package sendqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns one queue per instance hash, created lazily on first send.
// Queues that sit idle longer than maxIdleTime are swept away together with
// their stats.
type Manager struct {
	defaults    Options
	maxIdleTime time.Duration

	mu     sync.Mutex
	queues map[string]*Queue

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// ManagerConfig carries the tunables for NewManager.
type ManagerConfig struct {
	Interval      time.Duration
	JobTimeout    time.Duration
	MaxIdleTime   time.Duration
	SweepInterval time.Duration
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = 1 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Minute
	}

	m := &Manager{
		defaults: Options{
			Concurrency: 1,
			Interval:    cfg.Interval,
			JobTimeout:  cfg.JobTimeout,
		},
		maxIdleTime: cfg.MaxIdleTime,
		queues:      make(map[string]*Queue),
		stop:        make(chan struct{}),
	}

	m.done.Add(1)
	go m.sweepLoop(cfg.SweepInterval)
	return m
}

func (m *Manager) queueFor(key string, opts Options) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[key]; ok {
		return q
	}
	q := newQueue(key, opts)
	m.queues[key] = q
	logrus.Debugf("[QUEUE] Created queue %s (concurrency=%d interval=%s)", key, opts.Concurrency, opts.Interval)
	return q
}

// Add schedules a job on the instance's queue and waits for its result.
func (m *Manager) Add(ctx context.Context, hash string, job Job, priority int) (any, error) {
	return m.queueFor(hash, m.defaults).Add(ctx, job, priority)
}

// AddBulk schedules jobs on the instance's queue and waits until every one
// has settled ("allSettled" semantics).
func (m *Manager) AddBulk(ctx context.Context, hash string, jobs []Job, priority int) []Result {
	return m.queueFor(hash, m.defaults).AddBulk(ctx, jobs, priority)
}

// AddHighPriority schedules a job on the instance's level-n priority queue,
// which runs with concurrency 2 and a 500ms interval.
func (m *Manager) AddHighPriority(ctx context.Context, hash string, n int, job Job, priority int) (any, error) {
	key := fmt.Sprintf("%s-priority-%d", hash, n)
	opts := Options{
		Concurrency: 2,
		Interval:    500 * time.Millisecond,
		JobTimeout:  m.defaults.JobTimeout,
	}
	return m.queueFor(key, opts).Add(ctx, job, priority)
}

// Pause suspends dispatching for the instance's queue if it exists.
func (m *Manager) Pause(hash string) bool {
	if q := m.lookup(hash); q != nil {
		q.Pause()
		return true
	}
	return false
}

// Resume restarts dispatching for the instance's queue if it exists.
func (m *Manager) Resume(hash string) bool {
	if q := m.lookup(hash); q != nil {
		q.Resume()
		return true
	}
	return false
}

// Clear drops queued entries for the instance. Returns how many were dropped.
func (m *Manager) Clear(hash string) int {
	if q := m.lookup(hash); q != nil {
		return q.Clear()
	}
	return 0
}

// Remove destroys the instance's queue and its stats.
func (m *Manager) Remove(hash string) {
	m.mu.Lock()
	q, ok := m.queues[hash]
	if ok {
		delete(m.queues, hash)
	}
	m.mu.Unlock()
	if ok {
		q.Close()
	}
}

// GetStatus snapshots the instance's queue. ok is false when no queue has
// been created for it yet.
func (m *Manager) GetStatus(hash string) (Status, bool) {
	if q := m.lookup(hash); q != nil {
		return q.Status(), true
	}
	return Status{}, false
}

// Stop closes every queue and halts the sweeper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.done.Wait()

		m.mu.Lock()
		queues := make([]*Queue, 0, len(m.queues))
		for _, q := range m.queues {
			queues = append(queues, q)
		}
		m.queues = make(map[string]*Queue)
		m.mu.Unlock()

		for _, q := range queues {
			q.Close()
		}
		logrus.Info("[QUEUE] All send queues stopped")
	})
}

func (m *Manager) lookup(hash string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[hash]
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer m.done.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.maxIdleTime)

	m.mu.Lock()
	var stale []*Queue
	for key, q := range m.queues {
		if idle, last := q.idleSince(); idle && last.Before(cutoff) {
			delete(m.queues, key)
			stale = append(stale, q)
			logrus.Debugf("[QUEUE] Sweeping idle queue %s (last activity %s)", key, last.Format(time.RFC3339))
		}
	}
	m.mu.Unlock()

	for _, q := range stale {
		q.Close()
	}
}
