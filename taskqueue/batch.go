package taskqueue

import (
	"context"
	"fmt"
	"log"
	"time"
)

// BatchState aggregates member job states. Precedence: any failure makes
// the batch failed, any running job makes it running, and completed needs
// every job to have succeeded.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchFailed    BatchState = "failed"
)

// BatchTask is one unit submitted as part of a batch.
type BatchTask struct {
	Description string
	Fn          JobFunc
	Timeout     time.Duration
}

// BatchSubmission acknowledges a submitted batch.
type BatchSubmission struct {
	BatchID string   `json:"batch_id"`
	JobIDs  []string `json:"job_ids"`
	Total   int      `json:"total"`
}

// BatchStatus is the aggregated view of a batch.
type BatchStatus struct {
	BatchID   string     `json:"batch_id"`
	State     BatchState `json:"state"`
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Running   int        `json:"running"`
	Pending   int        `json:"pending"`
	CreatedAt time.Time  `json:"created_at"`
}

type batch struct {
	id        string
	jobIDs    []string
	createdAt time.Time
}

// SubmitBatch enqueues every task at the given priority under one batch id.
func (q *Queue) SubmitBatch(batchID string, tasks []BatchTask, priority Priority) (*BatchSubmission, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}
	q.mu.Lock()
	if _, exists := q.batches[batchID]; exists {
		q.mu.Unlock()
		return nil, fmt.Errorf("batch %s already exists", batchID)
	}
	q.mu.Unlock()

	jobIDs := make([]string, 0, len(tasks))
	for _, task := range tasks {
		id, err := q.Enqueue(priority, task.Description, task.Fn, task.Timeout, 0)
		if err != nil {
			return nil, err
		}
		jobIDs = append(jobIDs, id)
	}

	q.mu.Lock()
	q.batches[batchID] = &batch{id: batchID, jobIDs: jobIDs, createdAt: q.now()}
	q.mu.Unlock()
	return &BatchSubmission{BatchID: batchID, JobIDs: jobIDs, Total: len(jobIDs)}, nil
}

// BatchStatus aggregates the batch's member job states.
func (q *Queue) BatchStatus(batchID string) (*BatchStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrJobNotFound)
	}

	status := &BatchStatus{BatchID: batchID, Total: len(b.jobIDs), CreatedAt: b.createdAt}
	for _, jobID := range b.jobIDs {
		j, ok := q.jobs[jobID]
		if !ok {
			continue
		}
		switch j.state {
		case StateSucceeded:
			status.Succeeded++
		case StateFailed, StateCancelled:
			status.Failed++
		case StateRunning:
			status.Running++
		default:
			status.Pending++
		}
	}

	switch {
	case status.Failed > 0:
		status.State = BatchFailed
	case status.Running > 0:
		status.State = BatchRunning
	case status.Pending > 0:
		status.State = BatchPending
	default:
		status.State = BatchCompleted
	}
	return status, nil
}

// CleanupBatches drops batches older than maxAge that are in a terminal
// state, along with their job records. It returns the number removed.
func (q *Queue) CleanupBatches(maxAge time.Duration) int {
	q.mu.Lock()
	candidates := make([]string, 0)
	for id, b := range q.batches {
		if q.now().Sub(b.createdAt) > maxAge {
			candidates = append(candidates, id)
		}
	}
	q.mu.Unlock()

	removed := 0
	for _, id := range candidates {
		status, err := q.BatchStatus(id)
		if err != nil {
			continue
		}
		if status.State != BatchCompleted && status.State != BatchFailed {
			continue
		}
		q.mu.Lock()
		b := q.batches[id]
		if b != nil {
			for _, jobID := range b.jobIDs {
				delete(q.jobs, jobID)
			}
			delete(q.batches, id)
			removed++
		}
		q.mu.Unlock()
	}
	return removed
}

// RunJanitor sweeps aged terminal batches on a ticker until the context is
// cancelled. Run it as a goroutine from the composition root.
func (q *Queue) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := q.CleanupBatches(maxAge); removed > 0 {
				log.Printf("taskqueue: janitor removed %d aged batches", removed)
			}
		}
	}
}
