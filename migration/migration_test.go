package migration

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkokkai/billtracker/audit"
	"github.com/openkokkai/billtracker/completion"
	"github.com/openkokkai/billtracker/store"
)

func seedInconsistentBill(t *testing.T, st store.Store) {
	t.Helper()
	err := st.CreateBill(context.Background(), &store.BillRecord{
		BillID:          "S-217-1",
		ChamberOfOrigin: store.ChamberSangiin,
		SessionNumber:   217,
		Title:           "デジタル社会形成基本法案",
		Status:          store.StatusEnacted,
		Stage:           store.StageCommitteeReview, // inconsistent with status
		SubmitterKind:   store.SubmitterGovernment,
		Outline:         "デジタル社会の形成に関する基本理念を定める法律案",
		LastUpdated:     time.Now(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newOrchestrator(st store.Store, dir string) *Orchestrator {
	return NewOrchestrator(st, audit.NewAuditor(), completion.NewExecutor(st, nil), dir)
}

func TestRunCompletesAndWritesReport(t *testing.T) {
	st := store.NewMemoryStore()
	seedInconsistentBill(t, st)
	dir := t.TempDir()

	exec, report := newOrchestrator(st, dir).Run(context.Background(), nil)
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", exec.Status, exec.Errors)
	}
	if exec.ProgressPercentage != 100 {
		t.Errorf("progress = %f, want 100", exec.ProgressPercentage)
	}
	if exec.TasksCompleted != 1 {
		t.Errorf("tasks completed = %d, want 1", exec.TasksCompleted)
	}

	// The stage fix removes the only issue.
	if report.IssueReduction < 0.99 {
		t.Errorf("issue reduction = %f, want ~1.0", report.IssueReduction)
	}
	if report.FinalMetrics.Total != 1 {
		t.Errorf("final metrics = %+v", report.FinalMetrics)
	}

	stored, err := st.GetBill(context.Background(), "S-217-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != store.StageEnacted {
		t.Errorf("stage = %q, want fixed to enacted", stored.Stage)
	}

	path := filepath.Join(dir, "migration_report_"+exec.ExecutionID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("report file missing: %v", err)
	}

	for _, phase := range []string{PhaseAudit, PhasePlanning, PhaseExecution, PhaseValidation, PhaseCompletion} {
		if _, ok := exec.PhaseTimings[phase]; !ok {
			t.Errorf("phase %q missing from timings", phase)
		}
	}
}

func TestRunEstimatesPlanningEffort(t *testing.T) {
	st := store.NewMemoryStore()
	seedInconsistentBill(t, st)
	_, report := newOrchestrator(st, "").Run(context.Background(), nil)
	// One validate_and_fix task (5s effort) scaled by the 1.3 safety factor.
	if math.Abs(report.EstimatedSeconds-6.5) > 1e-9 {
		t.Errorf("estimated seconds = %f, want 6.5", report.EstimatedSeconds)
	}
}

type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) ListBills(context.Context, store.Filter, int) ([]*store.BillRecord, error) {
	return nil, errors.New("store unavailable")
}

func TestRunPhaseFailureStillWritesReport(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	dir := t.TempDir()

	exec, report := newOrchestrator(st, dir).Run(context.Background(), nil)
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", exec.Status)
	}
	if len(exec.Errors) == 0 {
		t.Error("expected a recorded phase error")
	}
	if report.Status != StatusFailed {
		t.Errorf("report status = %q, want failed", report.Status)
	}
	path := filepath.Join(dir, "migration_report_"+exec.ExecutionID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("report must be written even on failure: %v", err)
	}
}

func TestRunTargetedBillSet(t *testing.T) {
	st := store.NewMemoryStore()
	seedInconsistentBill(t, st)
	err := st.CreateBill(context.Background(), &store.BillRecord{
		BillID:          "S-217-2",
		ChamberOfOrigin: store.ChamberSangiin,
		SessionNumber:   217,
		Title:           "環境教育推進法案",
		Status:          store.StatusInCommittee,
		Stage:           store.StageCommitteeReview,
		SubmitterKind:   store.SubmitterGovernment,
		Outline:         "環境教育の推進に関する施策を定める法律案",
		LastUpdated:     time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, report := newOrchestrator(st, "").Run(context.Background(), []string{"S-217-2"})
	if report.InitialMetrics.Total != 1 {
		t.Errorf("initial total = %d, want the targeted bill only", report.InitialMetrics.Total)
	}
}
