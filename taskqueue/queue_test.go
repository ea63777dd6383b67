package taskqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitForState(t *testing.T, q *Queue, jobID string, want JobState) *JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := q.JobStatus(jobID)
		if err != nil {
			t.Fatalf("JobStatus: %v", err)
		}
		if st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := q.JobStatus(jobID)
	t.Fatalf("job %s never reached %s, currently %+v", jobID, want, st)
	return nil
}

func TestPriorityDispatchOrder(t *testing.T) {
	q := New(1)
	defer q.Stop()

	var mu sync.Mutex
	var order []string
	record := func(name string) JobFunc {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	// Enqueue before starting the worker so ordering depends only on the
	// lanes, not on submission timing.
	lowID, _ := q.Enqueue(PriorityLow, "low_job_1", record("low_job_1"), 0, 0)
	if _, err := q.Enqueue(PriorityNormal, "normal_job_1", record("normal_job_1"), 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(PriorityUrgent, "urgent_job_1", record("urgent_job_1"), 0, 0); err != nil {
		t.Fatal(err)
	}
	q.Start()

	waitForState(t, q, lowID, StateSucceeded)
	mu.Lock()
	defer mu.Unlock()
	want := []string{"urgent_job_1", "normal_job_1", "low_job_1"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestJobLifecycleAndResult(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	id, err := q.Enqueue(PriorityNormal, "compute", func(context.Context) (any, error) {
		return 42, nil
	}, 0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	st := waitForState(t, q, id, StateSucceeded)
	if st.Result != 42 {
		t.Errorf("result = %v, want 42", st.Result)
	}
	if st.StartedAt == nil || st.EndedAt == nil {
		t.Error("timestamps not recorded")
	}
}

func TestJobFailure(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	id, _ := q.Enqueue(PriorityNormal, "boom", func(context.Context) (any, error) {
		return nil, errors.New("exploded")
	}, 0, 0)
	st := waitForState(t, q, id, StateFailed)
	if st.ExcInfo != "exploded" {
		t.Errorf("exc info = %q", st.ExcInfo)
	}

	failed := q.FailedJobs(10)
	if len(failed) != 1 || failed[0].JobID != id {
		t.Errorf("failed jobs = %+v", failed)
	}
}

func TestJobTimeout(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	id, _ := q.Enqueue(PriorityNormal, "slow", func(ctx context.Context) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, 20*time.Millisecond, 0)
	st := waitForState(t, q, id, StateFailed)
	if !strings.Contains(st.ExcInfo, "timeout") {
		t.Errorf("exc info = %q, want a timeout marker", st.ExcInfo)
	}
}

func TestRetryFailed(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	var attempts int
	var mu sync.Mutex
	id, _ := q.Enqueue(PriorityNormal, "flaky", func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("first attempt fails")
		}
		return "ok", nil
	}, 0, 0)

	waitForState(t, q, id, StateFailed)
	if err := q.RetryFailed(id); err != nil {
		t.Fatal(err)
	}
	st := waitForState(t, q, id, StateSucceeded)
	if st.Result != "ok" {
		t.Errorf("result = %v", st.Result)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	q := New(1) // not started: jobs stay queued
	id, _ := q.Enqueue(PriorityLow, "queued", func(context.Context) (any, error) {
		return nil, nil
	}, 0, 0)

	if err := q.Cancel(id); err != nil {
		t.Fatal(err)
	}
	st, _ := q.JobStatus(id)
	if st.State != StateCancelled {
		t.Errorf("state = %q, want cancelled", st.State)
	}
	if stats := q.QueueStats(); stats[PriorityLow].Length != 0 {
		t.Errorf("lane length = %d after cancel", stats[PriorityLow].Length)
	}
}

func TestClearLane(t *testing.T) {
	q := New(1)
	for i := 0; i < 3; i++ {
		q.Enqueue(PriorityNormal, "queued", func(context.Context) (any, error) { return nil, nil }, 0, 0)
	}
	if n := q.Clear(PriorityNormal); n != 3 {
		t.Errorf("cleared = %d, want 3", n)
	}
	if stats := q.QueueStats(); stats[PriorityNormal].Length != 0 {
		t.Errorf("lane not empty after clear")
	}
}

func TestResultTTLExpiry(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	id, _ := q.Enqueue(PriorityNormal, "short-lived", func(context.Context) (any, error) {
		return "payload", nil
	}, 0, time.Nanosecond)
	waitForState(t, q, id, StateSucceeded)

	time.Sleep(5 * time.Millisecond)
	st, err := q.JobStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Result != nil {
		t.Errorf("result = %v, want dropped after ttl", st.Result)
	}
	if st.State != StateSucceeded {
		t.Errorf("state = %q, ttl expiry must not change state", st.State)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	q := New(1)
	q.Start()
	q.Stop()
	if _, err := q.Enqueue(PriorityNormal, "late", func(context.Context) (any, error) { return nil, nil }, 0, 0); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}

func TestQueueStatsCounters(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	okID, _ := q.Enqueue(PriorityHigh, "ok", func(context.Context) (any, error) { return nil, nil }, 0, 0)
	failID, _ := q.Enqueue(PriorityHigh, "bad", func(context.Context) (any, error) { return nil, errors.New("x") }, 0, 0)
	waitForState(t, q, okID, StateSucceeded)
	waitForState(t, q, failID, StateFailed)

	stats := q.QueueStats()
	high := stats[PriorityHigh]
	if high.Started != 2 || high.Finished != 1 || high.Failed != 1 {
		t.Errorf("stats = %+v", high)
	}
}

func TestBatchLifecycle(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	release := make(chan struct{})
	tasks := []BatchTask{
		{Description: "a", Fn: func(context.Context) (any, error) { return nil, nil }},
		{Description: "b", Fn: func(context.Context) (any, error) { <-release; return nil, nil }},
	}
	sub, err := q.SubmitBatch("batch-1", tasks, PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Total != 2 || len(sub.JobIDs) != 2 {
		t.Fatalf("submission = %+v", sub)
	}

	waitForState(t, q, sub.JobIDs[0], StateSucceeded)
	st, err := q.BatchStatus("batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.State == BatchCompleted {
		t.Errorf("batch completed while job b still pending: %+v", st)
	}

	close(release)
	waitForState(t, q, sub.JobIDs[1], StateSucceeded)
	st, _ = q.BatchStatus("batch-1")
	if st.State != BatchCompleted {
		t.Errorf("state = %q, want completed once all succeed", st.State)
	}
}

func TestBatchFailedPrecedence(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	tasks := []BatchTask{
		{Description: "ok", Fn: func(context.Context) (any, error) { return nil, nil }},
		{Description: "bad", Fn: func(context.Context) (any, error) { return nil, errors.New("x") }},
	}
	sub, _ := q.SubmitBatch("batch-2", tasks, PriorityNormal)
	waitForState(t, q, sub.JobIDs[0], StateSucceeded)
	waitForState(t, q, sub.JobIDs[1], StateFailed)

	st, _ := q.BatchStatus("batch-2")
	if st.State != BatchFailed {
		t.Errorf("state = %q, want failed to take precedence", st.State)
	}
}

func TestBatchCleanup(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	sub, _ := q.SubmitBatch("batch-3", []BatchTask{
		{Description: "a", Fn: func(context.Context) (any, error) { return nil, nil }},
	}, PriorityNormal)
	waitForState(t, q, sub.JobIDs[0], StateSucceeded)

	if n := q.CleanupBatches(time.Hour); n != 0 {
		t.Errorf("cleaned %d, want 0 for a fresh batch", n)
	}
	if n := q.CleanupBatches(0); n != 1 {
		t.Errorf("cleaned %d, want 1 for an aged terminal batch", n)
	}
	if _, err := q.BatchStatus("batch-3"); err == nil {
		t.Error("batch should be gone after cleanup")
	}
}

func TestJanitorSweepsAgedBatches(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Stop()

	sub, _ := q.SubmitBatch("batch-4", []BatchTask{
		{Description: "a", Fn: func(context.Context) (any, error) { return nil, nil }},
	}, PriorityNormal)
	waitForState(t, q, sub.JobIDs[0], StateSucceeded)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.RunJanitor(ctx, 10*time.Millisecond, 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := q.BatchStatus("batch-4"); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("janitor did not remove the aged terminal batch")
}
