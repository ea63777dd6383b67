// Package taskqueue is the in-process priority job queue backing the admin
// batch operations and cache refreshes.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openkokkai/billtracker/observability"
)

var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrJobNotFound = errors.New("job not found")
)

// Priority names the four queues. Workers drain them in strict order.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// priorityOrder is the strict service order.
var priorityOrder = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// JobState transitions queued -> running -> (succeeded | failed); queued
// jobs may also become cancelled.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobFunc is a unit of queued work.
type JobFunc func(ctx context.Context) (any, error)

// DefaultResultTTL bounds how long a finished job's result stays readable.
const DefaultResultTTL = time.Hour

type job struct {
	id          string
	description string
	priority    Priority
	fn          JobFunc
	timeout     time.Duration
	resultTTL   time.Duration

	state     JobState
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	result    any
	excInfo   string
	metadata  map[string]string
}

// JobStatus is the externally visible view of a job.
type JobStatus struct {
	JobID       string            `json:"job_id"`
	Description string            `json:"description"`
	Priority    Priority          `json:"priority"`
	State       JobState          `json:"state"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Result      any               `json:"result,omitempty"`
	ExcInfo     string            `json:"exc_info,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Stats summarizes one priority queue.
type Stats struct {
	Length   int `json:"length"`
	Started  int `json:"started"`
	Finished int `json:"finished"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// Queue is the four-lane priority queue with its worker pool.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	lanes   map[Priority][]*job
	jobs    map[string]*job
	stats   map[Priority]*Stats
	batches map[string]*batch
	closed  bool

	workers int
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a queue served by the given number of workers. Call Start to
// launch them.
func New(workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{
		lanes:   make(map[Priority][]*job),
		jobs:    make(map[string]*job),
		stats:   make(map[Priority]*Stats),
		batches: make(map[string]*batch),
		workers: workers,
		now:     time.Now,
	}
	for _, p := range priorityOrder {
		q.stats[p] = &Stats{}
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker pool. Workers exit when Stop is called.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop closes the queue and waits for running jobs to finish. Queued jobs
// stay queued and are never started.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
}

// Enqueue adds a job and returns its id. A zero timeout means no limit; a
// zero resultTTL uses the default.
func (q *Queue) Enqueue(priority Priority, description string, fn JobFunc, timeout, resultTTL time.Duration) (string, error) {
	if !validPriority(priority) {
		return "", fmt.Errorf("unknown priority %q", priority)
	}
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	j := &job{
		id:          uuid.NewString(),
		description: description,
		priority:    priority,
		fn:          fn,
		timeout:     timeout,
		resultTTL:   resultTTL,
		state:       StateQueued,
		createdAt:   q.now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.lanes[priority] = append(q.lanes[priority], j)
	q.jobs[j.id] = j
	observability.QueueDepth.WithLabelValues(string(priority)).Set(float64(len(q.lanes[priority])))
	q.mu.Unlock()
	q.cond.Signal()
	return j.id, nil
}

func validPriority(p Priority) bool {
	for _, v := range priorityOrder {
		if v == p {
			return true
		}
	}
	return false
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		var j *job
		for {
			if q.closed {
				q.mu.Unlock()
				return
			}
			j = q.dequeueLocked()
			if j != nil {
				break
			}
			q.cond.Wait()
		}
		j.state = StateRunning
		j.startedAt = q.now()
		q.stats[j.priority].Started++
		q.mu.Unlock()

		q.run(j)
	}
}

// dequeueLocked pops the oldest job of the highest non-empty priority.
func (q *Queue) dequeueLocked() *job {
	for _, p := range priorityOrder {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		j := lane[0]
		q.lanes[p] = lane[1:]
		observability.QueueDepth.WithLabelValues(string(p)).Set(float64(len(q.lanes[p])))
		return j
	}
	return nil
}

func (q *Queue) run(j *job) {
	start := q.now()
	ctx := context.Background()
	var cancel context.CancelFunc
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := j.fn(ctx)
		done <- outcome{result, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("job timeout after %s", j.timeout)}
	}

	q.mu.Lock()
	j.endedAt = q.now()
	if out.err != nil {
		j.state = StateFailed
		j.excInfo = out.err.Error()
		q.stats[j.priority].Failed++
	} else {
		j.state = StateSucceeded
		j.result = out.result
		q.stats[j.priority].Finished++
	}
	q.mu.Unlock()

	status := "succeeded"
	if out.err != nil {
		status = "failed"
	}
	observability.JobsTotal.WithLabelValues(string(j.priority), status).Inc()
	observability.JobDuration.Observe(q.now().Sub(start).Seconds())
}

// JobStatus returns the job's current view. Results past their TTL are
// dropped from the payload.
func (q *Queue) JobStatus(jobID string) (*JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return q.statusLocked(j), nil
}

func (q *Queue) statusLocked(j *job) *JobStatus {
	st := &JobStatus{
		JobID:       j.id,
		Description: j.description,
		Priority:    j.priority,
		State:       j.state,
		CreatedAt:   j.createdAt,
		ExcInfo:     j.excInfo,
		Metadata:    j.metadata,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		st.StartedAt = &t
	}
	if !j.endedAt.IsZero() {
		t := j.endedAt
		st.EndedAt = &t
	}
	if j.result != nil && q.now().Before(j.endedAt.Add(j.resultTTL)) {
		st.Result = j.result
	}
	return st
}

// QueueStats snapshots the per-priority counters.
func (q *Queue) QueueStats() map[Priority]Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[Priority]Stats, len(priorityOrder))
	for _, p := range priorityOrder {
		s := *q.stats[p]
		s.Length = len(q.lanes[p])
		out[p] = s
	}
	return out
}

// Cancel removes a queued job. Running jobs cannot be cancelled.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.state != StateQueued {
		return fmt.Errorf("job %s is %s, only queued jobs can be cancelled", jobID, j.state)
	}
	q.removeFromLaneLocked(j)
	j.state = StateCancelled
	j.endedAt = q.now()
	return nil
}

// Clear cancels every queued job in one priority lane and returns the
// count.
func (q *Queue) Clear(priority Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	lane := q.lanes[priority]
	for _, j := range lane {
		j.state = StateCancelled
		j.endedAt = q.now()
	}
	q.lanes[priority] = nil
	observability.QueueDepth.WithLabelValues(string(priority)).Set(0)
	return len(lane)
}

func (q *Queue) removeFromLaneLocked(j *job) {
	lane := q.lanes[j.priority]
	for i, cand := range lane {
		if cand.id == j.id {
			q.lanes[j.priority] = append(lane[:i:i], lane[i+1:]...)
			observability.QueueDepth.WithLabelValues(string(j.priority)).Set(float64(len(q.lanes[j.priority])))
			return
		}
	}
}

// RetryFailed re-enqueues a failed job at its original priority.
func (q *Queue) RetryFailed(jobID string) error {
	q.mu.Lock()
	j, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if j.state != StateFailed {
		q.mu.Unlock()
		return fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, j.state)
	}
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	j.state = StateQueued
	j.excInfo = ""
	j.startedAt = time.Time{}
	j.endedAt = time.Time{}
	q.lanes[j.priority] = append(q.lanes[j.priority], j)
	observability.QueueDepth.WithLabelValues(string(j.priority)).Set(float64(len(q.lanes[j.priority])))
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// FailedJobs lists up to limit failed jobs, most recent first.
func (q *Queue) FailedJobs(limit int) []*JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	var failed []*job
	for _, j := range q.jobs {
		if j.state == StateFailed {
			failed = append(failed, j)
		}
	}
	sort.Slice(failed, func(i, k int) bool {
		return failed[i].endedAt.After(failed[k].endedAt)
	})
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	out := make([]*JobStatus, len(failed))
	for i, j := range failed {
		out[i] = q.statusLocked(j)
	}
	return out
}
