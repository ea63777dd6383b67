// Package migration orchestrates a full audit, plan, execute, validate,
// report cycle over the bill corpus.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openkokkai/billtracker/audit"
	"github.com/openkokkai/billtracker/completion"
	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/store"
)

// Status of a migration execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Phase names in execution order.
const (
	PhaseAudit      = "audit"
	PhasePlanning   = "planning"
	PhaseExecution  = "execution"
	PhaseValidation = "validation"
	PhaseCompletion = "completion"
)

// validationImprovementFloor is the relative issue-count reduction the
// validation phase requires to pass.
const validationImprovementFloor = 0.10

// Execution is the mutable state of one migration run.
type Execution struct {
	ExecutionID        string             `json:"execution_id"`
	PlanID             string             `json:"plan_id"`
	Status             Status             `json:"status"`
	CurrentPhase       string             `json:"current_phase"`
	ProgressPercentage float64            `json:"progress_percentage"`
	TasksCompleted     int                `json:"tasks_completed"`
	TasksFailed        int                `json:"tasks_failed"`
	Errors             []string           `json:"errors,omitempty"`
	PhaseTimings       map[string]float64 `json:"phase_timings_seconds"`
	StartedAt          time.Time          `json:"started_at"`
	EndedAt            time.Time          `json:"ended_at"`
}

// Report is the persisted outcome of a migration run.
type Report struct {
	PlanID               string                  `json:"plan_id"`
	ExecutionID          string                  `json:"execution_id"`
	Status               Status                  `json:"status"`
	InitialMetrics       audit.Metrics           `json:"initial_metrics"`
	FinalMetrics         audit.Metrics           `json:"final_metrics"`
	QualityImprovement   float64                 `json:"quality_improvement"`
	IssueReduction       float64                 `json:"issue_reduction"`
	EstimatedSeconds     float64                 `json:"estimated_seconds"`
	BatchResults         *completion.BatchResult `json:"batch_results,omitempty"`
	TotalFieldsCompleted int                     `json:"total_fields_completed"`
	TotalBillsImproved   int                     `json:"total_bills_improved"`
	PhaseTimings         map[string]float64      `json:"phases_timing_seconds"`
	SuccessRate          float64                 `json:"success_rate"`
	Recommendations      []string                `json:"recommendations"`
	GeneratedAt          time.Time               `json:"generated_at"`
}

// Orchestrator wires the auditor and completion executor into the phased
// run. ReportsDir receives one JSON report per execution.
type Orchestrator struct {
	Store      store.Store
	Auditor    *audit.Auditor
	Executor   *completion.Executor
	ReportsDir string
}

func NewOrchestrator(st store.Store, auditor *audit.Auditor, executor *completion.Executor, reportsDir string) *Orchestrator {
	return &Orchestrator{Store: st, Auditor: auditor, Executor: executor, ReportsDir: reportsDir}
}

// Run executes the five phases over the target bills (all bills when
// billIDs is empty). A phase failure marks the execution failed and skips
// the remaining work, but the report is still written.
func (o *Orchestrator) Run(ctx context.Context, billIDs []string) (*Execution, *Report) {
	exec := &Execution{
		ExecutionID:  uuid.NewString(),
		PlanID:       uuid.NewString(),
		Status:       StatusRunning,
		PhaseTimings: make(map[string]float64),
		StartedAt:    time.Now(),
	}
	report := &Report{
		PlanID:       exec.PlanID,
		ExecutionID:  exec.ExecutionID,
		PhaseTimings: exec.PhaseTimings,
	}

	var (
		initial, final *audit.Report
		tasks          []completion.Task
		batch          *completion.BatchResult
	)

	phases := []struct {
		name string
		run  func() error
	}{
		{PhaseAudit, func() error {
			records, err := o.loadRecords(ctx, billIDs)
			if err != nil {
				return err
			}
			initial = o.Auditor.Audit(records)
			report.InitialMetrics = initial.Overall
			return nil
		}},
		{PhasePlanning, func() error {
			tasks = completion.Plan(initial.Issues)
			for _, t := range tasks {
				report.EstimatedSeconds += t.EstimatedEffortSeconds
			}
			report.EstimatedSeconds *= 1.3
			return nil
		}},
		{PhaseExecution, func() error {
			batch = o.Executor.Execute(ctx, tasks)
			report.BatchResults = batch
			exec.TasksCompleted = batch.Completed
			exec.TasksFailed = batch.Failed
			for _, r := range batch.TaskResults {
				report.TotalFieldsCompleted += len(r.CompletedFields)
				if r.QualityImprovement > 0 {
					report.TotalBillsImproved++
				}
			}
			return nil
		}},
		{PhaseValidation, func() error {
			records, err := o.loadRecords(ctx, billIDs)
			if err != nil {
				return err
			}
			final = o.Auditor.Audit(records)
			report.FinalMetrics = final.Overall
			report.QualityImprovement = final.Overall.OverallQualityScore - initial.Overall.OverallQualityScore
			report.IssueReduction = issueReduction(len(initial.Issues), len(final.Issues))
			if len(initial.Issues) > 0 && report.IssueReduction < validationImprovementFloor {
				return fmt.Errorf("issue reduction %.0f%% below %.0f%%",
					report.IssueReduction*100, validationImprovementFloor*100)
			}
			return nil
		}},
	}

	total := len(phases) + 1 // completion phase counts toward progress
	for i, phase := range phases {
		if ctx.Err() != nil {
			exec.Status = StatusCancelled
			exec.Errors = append(exec.Errors, ctx.Err().Error())
			break
		}
		exec.CurrentPhase = phase.name
		start := time.Now()
		err := phase.run()
		elapsed := time.Since(start).Seconds()
		exec.PhaseTimings[phase.name] = elapsed
		observability.MigrationPhaseDuration.WithLabelValues(phase.name).Observe(elapsed)
		if err != nil {
			exec.Status = StatusFailed
			exec.Errors = append(exec.Errors, fmt.Sprintf("%s: %v", phase.name, err))
			break
		}
		exec.ProgressPercentage = float64(i+1) / float64(total) * 100
	}

	// Completion phase: assemble and persist the report regardless of how
	// far the run got.
	exec.CurrentPhase = PhaseCompletion
	start := time.Now()
	if exec.Status == StatusRunning {
		exec.Status = StatusCompleted
		exec.ProgressPercentage = 100
	}
	report.Status = exec.Status
	if batch != nil {
		report.SuccessRate = batch.SuccessRate
	}
	if final != nil {
		report.Recommendations = final.Recommendations
	} else if initial != nil {
		report.Recommendations = initial.Recommendations
	}
	report.GeneratedAt = time.Now()
	if err := o.writeReport(report); err != nil {
		exec.Errors = append(exec.Errors, fmt.Sprintf("%s: %v", PhaseCompletion, err))
		log.Printf("migration: report write failed: %v", err)
	}
	elapsed := time.Since(start).Seconds()
	exec.PhaseTimings[PhaseCompletion] = elapsed
	observability.MigrationPhaseDuration.WithLabelValues(PhaseCompletion).Observe(elapsed)
	exec.EndedAt = time.Now()
	return exec, report
}

func issueReduction(before, after int) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before)
}

func (o *Orchestrator) loadRecords(ctx context.Context, billIDs []string) ([]*store.BillRecord, error) {
	if len(billIDs) == 0 {
		return o.Store.ListBills(ctx, nil, 0)
	}
	var records []*store.BillRecord
	for _, id := range billIDs {
		rec, err := o.Store.GetBill(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (o *Orchestrator) writeReport(report *Report) error {
	if o.ReportsDir == "" {
		return nil
	}
	if err := os.MkdirAll(o.ReportsDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("migration_report_%s.json", report.ExecutionID)
	return os.WriteFile(filepath.Join(o.ReportsDir, name), data, 0o644)
}
