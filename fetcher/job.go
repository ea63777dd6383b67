package fetcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState tracks a batch of fetches through its lifecycle.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
	JobRetrying  JobState = "retrying"
)

// ProgressFunc is invoked with the latest completion fraction after every
// fetch completion.
type ProgressFunc func(fraction float64)

// Job aggregates a batch of fetches. Progress updates on every fetch
// completion; subscribers receive the latest fraction.
type Job struct {
	ID string

	mu          sync.Mutex
	state       JobState
	processed   int
	failed      int
	total       int
	startedAt   time.Time
	endedAt     time.Time
	lastError   string
	subscribers []ProgressFunc
}

func NewJob(total int) *Job {
	return &Job{
		ID:    uuid.NewString(),
		state: JobPending,
		total: total,
	}
}

// Subscribe registers a progress callback.
func (j *Job) Subscribe(fn ProgressFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subscribers = append(j.subscribers, fn)
}

// Start marks the job running.
func (j *Job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobPending {
		j.state = JobRunning
		j.startedAt = time.Now()
	}
}

// Cancel marks the job cancelled. In-flight fetches still tally but the
// state stays cancelled.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobRunning || j.state == JobPending {
		j.state = JobCancelled
		j.endedAt = time.Now()
	}
}

// RecordResult tallies one fetch completion and notifies subscribers.
func (j *Job) RecordResult(err error) {
	j.mu.Lock()
	j.processed++
	if err != nil {
		j.failed++
		j.lastError = err.Error()
	}
	if j.state != JobCancelled && j.processed >= j.total && j.total > 0 {
		if j.failed == j.total {
			j.state = JobFailed
		} else {
			j.state = JobCompleted
		}
		j.endedAt = time.Now()
	}
	frac := j.progressLocked()
	subs := make([]ProgressFunc, len(j.subscribers))
	copy(subs, j.subscribers)
	j.mu.Unlock()

	for _, fn := range subs {
		fn(frac)
	}
}

func (j *Job) progressLocked() float64 {
	if j.total == 0 {
		return 0
	}
	return float64(j.processed) / float64(j.total)
}

// JobStatus is a point-in-time snapshot of a Job.
type JobStatus struct {
	ID        string    `json:"id"`
	State     JobState  `json:"state"`
	Progress  float64   `json:"progress"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Status returns a snapshot of the job.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{
		ID:        j.ID,
		State:     j.state,
		Progress:  j.progressLocked(),
		Processed: j.processed,
		Failed:    j.failed,
		Total:     j.total,
		StartedAt: j.startedAt,
		EndedAt:   j.endedAt,
		Error:     j.lastError,
	}
}
