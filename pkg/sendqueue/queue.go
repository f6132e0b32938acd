package sendqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

// Job is a deferred worker call. The context carries the per-job timeout.
type Job func(ctx context.Context) (any, error)

// Result is what a settled queue entry yields.
type Result struct {
	Value any
	Err   error
}

// DefaultPriority is used when the caller does not care about ordering
// beyond FIFO. Lower values dispatch first.
const DefaultPriority = 5

// Options configures a queue. Changing options on a live queue is not
// supported; destroy and recreate instead.
type Options struct {
	Concurrency int
	Interval    time.Duration
	JobTimeout  time.Duration
}

// Status is a point-in-time snapshot of a queue's accounting.
type Status struct {
	Size          int       `json:"size"`
	Pending       int       `json:"pending"`
	Paused        bool      `json:"paused"`
	TotalJobs     int64     `json:"totalJobs"`
	CompletedJobs int64     `json:"completedJobs"`
	FailedJobs    int64     `json:"failedJobs"`
	SuccessRate   float64   `json:"successRate"`
	LastActivity  time.Time `json:"lastActivity"`
}

type entry struct {
	id       string
	priority int
	seq      uint64
	job      Job
	done     chan Result
}

// entryHeap orders by priority first, insertion order second.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue serializes worker calls for one instance. At most opts.Concurrency
// entries run at a time and successive dispatches are separated by at least
// opts.Interval.
type Queue struct {
	key  string
	opts Options

	mu           sync.Mutex
	heap         entryHeap
	pending      int
	paused       bool
	closed       bool
	seq          uint64
	lastDispatch time.Time

	totalJobs     int64
	completedJobs int64
	failedJobs    int64
	lastActivity  time.Time

	wake chan struct{}
	stop chan struct{}
	done sync.WaitGroup
}

func newQueue(key string, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	q := &Queue{
		key:          key,
		opts:         opts,
		lastActivity: time.Now(),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	q.done.Add(1)
	go q.dispatchLoop()
	return q
}

// Add schedules job with the given priority and blocks until it settles.
func (q *Queue) Add(ctx context.Context, job Job, priority int) (any, error) {
	e, err := q.enqueue(job, priority)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-e.done:
		return res.Value, res.Err
	case <-ctx.Done():
		// The entry keeps running; only the waiter gives up.
		return nil, pkgError.TimeoutError("request cancelled while queued")
	}
}

// AddBulk schedules every job and waits until all of them settle. A failure
// of one entry never cancels its siblings.
func (q *Queue) AddBulk(ctx context.Context, jobs []Job, priority int) []Result {
	entries := make([]*entry, 0, len(jobs))
	results := make([]Result, len(jobs))

	for i, job := range jobs {
		e, err := q.enqueue(job, priority)
		if err != nil {
			results[i] = Result{Err: err}
			entries = append(entries, nil)
			continue
		}
		entries = append(entries, e)
	}

	for i, e := range entries {
		if e == nil {
			continue
		}
		select {
		case res := <-e.done:
			results[i] = res
		case <-ctx.Done():
			results[i] = Result{Err: pkgError.TimeoutError("request cancelled while queued")}
		}
	}
	return results
}

func (q *Queue) enqueue(job Job, priority int) (*entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, pkgError.InternalServerError("send queue is closed")
	}

	q.seq++
	e := &entry{
		id:       uuid.NewString(),
		priority: priority,
		seq:      q.seq,
		job:      job,
		done:     make(chan Result, 1),
	}
	heap.Push(&q.heap, e)
	q.totalJobs++
	q.lastActivity = time.Now()
	q.notify()
	return e, nil
}

// Pause stops dispatching new entries. Running entries finish normally.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts dispatching.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.notify()
	q.mu.Unlock()
}

// Clear drops every queued entry. Waiters receive a failure; running entries
// are untouched.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := len(q.heap)
	for _, e := range q.heap {
		e.done <- Result{Err: pkgError.InternalServerError("send queue cleared")}
		q.failedJobs++
	}
	q.heap = q.heap[:0]
	q.lastActivity = time.Now()
	q.mu.Unlock()
	return dropped
}

// Close clears the queue and stops the dispatcher.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Clear()
	close(q.stop)
	q.done.Wait()
}

// Status snapshots the queue accounting.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	settled := q.completedJobs + q.failedJobs
	rate := 0.0
	if settled > 0 {
		rate = float64(q.completedJobs) / float64(settled) * 100
	}
	return Status{
		Size:          len(q.heap),
		Pending:       q.pending,
		Paused:        q.paused,
		TotalJobs:     q.totalJobs,
		CompletedJobs: q.completedJobs,
		FailedJobs:    q.failedJobs,
		SuccessRate:   rate,
		LastActivity:  q.lastActivity,
	}
}

func (q *Queue) idleSince() (bool, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idle := len(q.heap) == 0 && q.pending == 0
	return idle, q.lastActivity
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatchLoop() {
	defer q.done.Done()

	for {
		q.mu.Lock()
		now := time.Now()
		var wait time.Duration

		switch {
		case q.closed:
			q.mu.Unlock()
			return
		case q.paused, q.pending >= q.opts.Concurrency, len(q.heap) == 0:
			q.mu.Unlock()
		default:
			if since := now.Sub(q.lastDispatch); since < q.opts.Interval {
				wait = q.opts.Interval - since
				q.mu.Unlock()
				break
			}
			e := heap.Pop(&q.heap).(*entry)
			q.pending++
			q.lastDispatch = now
			q.mu.Unlock()
			go q.run(e)
			continue
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.wake:
				timer.Stop()
			case <-q.stop:
				timer.Stop()
				return
			}
			continue
		}

		select {
		case <-q.wake:
		case <-q.stop:
			return
		}
	}
}

func (q *Queue) run(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), q.opts.JobTimeout)
	defer cancel()

	value, err := e.job(ctx)
	// A job that settled successfully keeps its result even if the deadline
	// expired while it was finishing; only a deadline failure is recast.
	if errors.Is(err, context.DeadlineExceeded) {
		err = pkgError.TimeoutError("send job timed out")
	}

	q.mu.Lock()
	q.pending--
	q.lastActivity = time.Now()
	if err != nil {
		q.failedJobs++
	} else {
		q.completedJobs++
	}
	q.notify()
	q.mu.Unlock()

	if err != nil {
		logrus.WithError(err).Warnf("[QUEUE] Job %s failed on queue %s", e.id, q.key)
	}
	e.done <- Result{Value: value, Err: err}
}
