// Package completion plans and executes data-repair tasks derived from
// validation issues.
package completion

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/parser"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/validate"
)

// Strategy names.
const (
	StrategyScrapeMissing  = "scrape_missing"
	StrategyValidateAndFix = "validate_and_fix"
	StrategyEnhance        = "enhance_existing"
	StrategyBulkUpdate     = "bulk_update"
)

// Priority of a completion task.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// criticalFields force a task to critical priority when targeted.
var criticalFields = map[string]bool{"outline": true, "title": true, "status": true}

// fieldPriorities is the static priority table for non-critical targets.
var fieldPriorities = map[string]Priority{
	"session_number":      PriorityHigh,
	"stage":               PriorityHigh,
	"submitter_kind":      PriorityHigh,
	"background":          PriorityNormal,
	"expected_effects":    PriorityNormal,
	"key_provisions":      PriorityNormal,
	"sponsoring_ministry": PriorityNormal,
	"related_laws":        PriorityLow,
	"voting_results":      PriorityLow,
	"supporting_members":  PriorityLow,
}

// Task is one planned repair action against one bill.
type Task struct {
	TaskID                 string   `json:"task_id"`
	BillID                 string   `json:"bill_id"`
	Strategy               string   `json:"strategy"`
	TargetFields           []string `json:"target_fields"`
	Priority               Priority `json:"priority"`
	EstimatedEffortSeconds float64  `json:"estimated_effort_seconds"`
}

// TaskResult is the outcome of executing one task.
type TaskResult struct {
	TaskID             string   `json:"task_id"`
	BillID             string   `json:"bill_id"`
	Strategy           string   `json:"strategy"`
	Status             string   `json:"status"` // completed, failed, skipped
	CompletedFields    []string `json:"completed_fields,omitempty"`
	Error              string   `json:"error,omitempty"`
	ProcessingTimeMS   int64    `json:"processing_time_ms"`
	QualityImprovement float64  `json:"quality_improvement"`
}

// BatchResult aggregates an execution run.
type BatchResult struct {
	Total                 int                `json:"total"`
	Completed             int                `json:"completed"`
	Failed                int                `json:"failed"`
	Skipped               int                `json:"skipped"`
	TotalProcessingTimeMS int64              `json:"total_processing_time_ms"`
	SuccessRate           float64            `json:"success_rate"`
	TaskResults           []TaskResult       `json:"task_results"`
	PerformanceMetrics    map[string]float64 `json:"performance_metrics"`
}

// Plan buckets issues by bill and emits one task per (bill, strategy).
// Tasks come back sorted by priority, then ascending estimated effort.
func Plan(issues []validate.Issue) []Task {
	type buckets struct {
		missing      []string
		inconsistent []string
		poor         []string
	}
	byBill := make(map[string]*buckets)
	var order []string
	for _, issue := range issues {
		if issue.BillID == "" {
			continue
		}
		b := byBill[issue.BillID]
		if b == nil {
			b = &buckets{}
			byBill[issue.BillID] = b
			order = append(order, issue.BillID)
		}
		switch issue.Kind {
		case validate.KindMissingField:
			b.missing = appendUnique(b.missing, issue.Field)
		case validate.KindInconsistent, validate.KindDateOrder:
			b.inconsistent = appendUnique(b.inconsistent, issue.Field)
		case validate.KindPoorJapanese:
			b.poor = appendUnique(b.poor, issue.Field)
		}
	}

	var tasks []Task
	for _, billID := range order {
		b := byBill[billID]
		if len(b.missing) > 0 {
			tasks = append(tasks, newTask(billID, StrategyScrapeMissing, b.missing, 15))
		}
		if len(b.inconsistent) > 0 {
			tasks = append(tasks, newTask(billID, StrategyValidateAndFix, b.inconsistent, 5))
		}
		if len(b.poor) > 0 {
			tasks = append(tasks, newTask(billID, StrategyEnhance, b.poor, 3))
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if priorityRank[tasks[i].Priority] != priorityRank[tasks[j].Priority] {
			return priorityRank[tasks[i].Priority] < priorityRank[tasks[j].Priority]
		}
		return tasks[i].EstimatedEffortSeconds < tasks[j].EstimatedEffortSeconds
	})
	return tasks
}

func newTask(billID, strategy string, fields []string, perFieldSeconds float64) Task {
	return Task{
		TaskID:                 uuid.NewString(),
		BillID:                 billID,
		Strategy:               strategy,
		TargetFields:           fields,
		Priority:               taskPriority(fields),
		EstimatedEffortSeconds: perFieldSeconds * float64(len(fields)),
	}
}

func taskPriority(fields []string) Priority {
	priority := PriorityLow
	for _, f := range fields {
		if criticalFields[f] {
			return PriorityCritical
		}
		p, ok := fieldPriorities[f]
		if !ok {
			p = PriorityNormal
		}
		if priorityRank[p] < priorityRank[priority] {
			priority = p
		}
	}
	return priority
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// Scraper re-fetches a bill's source pages and returns a freshly parsed
// record. scrape_missing copies its fields into missing slots only.
type Scraper interface {
	Scrape(ctx context.Context, rec *store.BillRecord) (*store.BillRecord, error)
}

// Executor runs planned tasks against the store.
type Executor struct {
	Store   store.Store
	Scraper Scraper

	BatchSize      int
	MaxConcurrent  int
	RateLimitDelay time.Duration
	TaskTimeout    time.Duration

	sleep func(time.Duration)
}

func NewExecutor(st store.Store, scraper Scraper) *Executor {
	return &Executor{
		Store:          st,
		Scraper:        scraper,
		BatchSize:      50,
		MaxConcurrent:  10,
		RateLimitDelay: 2 * time.Second,
		TaskTimeout:    30 * time.Second,
		sleep:          time.Sleep,
	}
}

// Execute runs tasks in batches. A failing task never aborts its batch.
func (e *Executor) Execute(ctx context.Context, tasks []Task) *BatchResult {
	start := time.Now()
	result := &BatchResult{Total: len(tasks), PerformanceMetrics: make(map[string]float64)}
	results := make([]TaskResult, len(tasks))

	for offset := 0; offset < len(tasks); offset += e.BatchSize {
		end := offset + e.BatchSize
		if end > len(tasks) {
			end = len(tasks)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.MaxConcurrent)
		for i := offset; i < end; i++ {
			g.Go(func() error {
				results[i] = e.runTask(gctx, tasks[i])
				return nil
			})
		}
		_ = g.Wait() // task errors are captured in results, never returned

		if end < len(tasks) && e.RateLimitDelay > 0 {
			e.sleep(e.RateLimitDelay)
		}
	}

	for _, r := range results {
		switch r.Status {
		case "completed":
			result.Completed++
		case "skipped":
			result.Skipped++
		default:
			result.Failed++
		}
	}
	result.TaskResults = results
	result.TotalProcessingTimeMS = time.Since(start).Milliseconds()
	if result.Total > 0 {
		result.SuccessRate = float64(result.Completed+result.Skipped) / float64(result.Total)
		result.PerformanceMetrics["avg_task_ms"] = float64(result.TotalProcessingTimeMS) / float64(result.Total)
	}
	result.PerformanceMetrics["tasks_per_second"] = perSecond(result.Total, time.Since(start))
	return result
}

func perSecond(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func (e *Executor) runTask(ctx context.Context, task Task) TaskResult {
	start := time.Now()
	res := TaskResult{TaskID: task.TaskID, BillID: task.BillID, Strategy: task.Strategy}

	taskCtx := ctx
	if e.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.TaskTimeout)
		defer cancel()
	}

	rec, err := e.Store.GetBill(taskCtx, task.BillID)
	if err != nil {
		res.Status = "failed"
		res.Error = fmt.Sprintf("load bill: %v", err)
		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		observability.CompletionTasks.WithLabelValues(task.Strategy, res.Status).Inc()
		return res
	}
	qualityBefore := rec.DataQualityScore

	var completed []string
	switch task.Strategy {
	case StrategyScrapeMissing:
		completed, err = e.scrapeMissing(taskCtx, rec, task.TargetFields)
	case StrategyEnhance:
		completed = enhanceText(rec, task.TargetFields)
	case StrategyValidateAndFix:
		completed = validateAndFix(rec)
	case StrategyBulkUpdate:
		completed = bulkUpdate(rec)
	default:
		err = fmt.Errorf("unknown strategy %q", task.Strategy)
	}
	if err == nil && taskCtx.Err() != nil {
		err = fmt.Errorf("task timeout: %w", taskCtx.Err())
	}

	switch {
	case err != nil:
		res.Status = "failed"
		res.Error = err.Error()
	case len(completed) == 0:
		res.Status = "skipped"
	default:
		// Stored quality scores always come from the validator formula; the
		// parser's fill score is only a provisional parse-time estimate.
		rec.DataQualityScore = validate.Validate(rec, validate.Standard).QualityScore
		rec.LastUpdated = time.Now()
		if _, uerr := e.Store.UpdateBill(taskCtx, rec.BillID, recordFields(rec)); uerr != nil {
			res.Status = "failed"
			res.Error = fmt.Sprintf("update bill: %v", uerr)
			break
		}
		res.Status = "completed"
		res.CompletedFields = completed
		res.QualityImprovement = rec.DataQualityScore - qualityBefore
		herr := e.Store.AppendHistory(taskCtx, &store.HistoryEvent{
			EventID:            uuid.NewString(),
			BillID:             rec.BillID,
			Event:              "data_completion",
			Strategy:           task.Strategy,
			CompletedFields:    completed,
			ProcessingTimeMS:   time.Since(start).Milliseconds(),
			QualityImprovement: res.QualityImprovement,
			RecordedAt:         time.Now(),
		})
		if herr != nil {
			log.Printf("completion: history append for %s failed: %v", rec.BillID, herr)
		}
	}
	res.ProcessingTimeMS = time.Since(start).Milliseconds()
	observability.CompletionTasks.WithLabelValues(task.Strategy, res.Status).Inc()
	return res
}

// scrapeMissing refreshes the record from its sources and copies scraped
// values into empty target fields only.
func (e *Executor) scrapeMissing(ctx context.Context, rec *store.BillRecord, targets []string) ([]string, error) {
	if e.Scraper == nil {
		return nil, nil
	}
	fresh, err := e.Scraper.Scrape(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}
	var completed []string
	for _, field := range targets {
		if copyIfMissing(rec, fresh, field) {
			completed = append(completed, field)
		}
	}
	return completed, nil
}

func copyIfMissing(dst, src *store.BillRecord, field string) bool {
	switch field {
	case "title":
		if dst.Title == "" && src.Title != "" {
			dst.Title = src.Title
			return true
		}
	case "outline":
		if dst.Outline == "" && src.Outline != "" {
			dst.Outline = src.Outline
			return true
		}
	case "background":
		if dst.Background == "" && src.Background != "" {
			dst.Background = src.Background
			return true
		}
	case "expected_effects":
		if dst.ExpectedEffects == "" && src.ExpectedEffects != "" {
			dst.ExpectedEffects = src.ExpectedEffects
			return true
		}
	case "sponsoring_ministry":
		if dst.SponsoringMinistry == "" && src.SponsoringMinistry != "" {
			dst.SponsoringMinistry = src.SponsoringMinistry
			return true
		}
	case "status":
		if (dst.Status == "" || dst.Status == store.StatusUnknown) && src.Status != "" && src.Status != store.StatusUnknown {
			dst.Status = src.Status
			return true
		}
	case "submitter_kind":
		if (dst.SubmitterKind == "" || dst.SubmitterKind == store.SubmitterUnknown) && src.SubmitterKind != "" && src.SubmitterKind != store.SubmitterUnknown {
			dst.SubmitterKind = src.SubmitterKind
			return true
		}
	case "session_number":
		if dst.SessionNumber == 0 && src.SessionNumber > 0 {
			dst.SessionNumber = src.SessionNumber
			return true
		}
	case "key_provisions":
		if len(dst.KeyProvisions) == 0 && len(src.KeyProvisions) > 0 {
			dst.KeyProvisions = src.KeyProvisions
			return true
		}
	case "related_laws":
		if len(dst.RelatedLaws) == 0 && len(src.RelatedLaws) > 0 {
			dst.RelatedLaws = src.RelatedLaws
			return true
		}
	case "submitting_members":
		if len(dst.SubmittingMembers) == 0 && len(src.SubmittingMembers) > 0 {
			dst.SubmittingMembers = src.SubmittingMembers
			return true
		}
	case "committee_assignments":
		if len(dst.CommitteeAssignments) == 0 && len(src.CommitteeAssignments) > 0 {
			dst.CommitteeAssignments = src.CommitteeAssignments
			return true
		}
	case "voting_results":
		if len(dst.VotingResults) == 0 && len(src.VotingResults) > 0 {
			dst.VotingResults = src.VotingResults
			return true
		}
	case "submitted_date":
		if dst.SubmittedDate == nil && src.SubmittedDate != nil {
			dst.SubmittedDate = src.SubmittedDate
			return true
		}
	}
	return false
}

// enhanceText normalizes the target text fields, reporting the ones that
// actually changed.
func enhanceText(rec *store.BillRecord, targets []string) []string {
	var completed []string
	normalize := func(field string, value *string) {
		for _, t := range targets {
			if t != field {
				continue
			}
			if out := parser.NormalizeText(*value); out != *value && out != "" {
				*value = out
				completed = append(completed, field)
			}
			return
		}
	}
	normalize("title", &rec.Title)
	normalize("outline", &rec.Outline)
	normalize("background", &rec.Background)
	normalize("expected_effects", &rec.ExpectedEffects)
	return completed
}

// validateAndFix applies field-specific repairs for consistency issues:
// stage canonicalization from status and submitter-kind correction.
func validateAndFix(rec *store.BillRecord) []string {
	var completed []string
	if rec.Status != "" && rec.Status != store.StatusUnknown {
		if expected := parser.StageForStatus(rec.Status); rec.Stage != expected && rec.Stage != "" {
			res := validate.Validate(rec, validate.Standard)
			for _, issue := range res.Issues {
				if issue.Field == "stage" && issue.Kind == validate.KindInconsistent {
					rec.Stage = expected
					completed = append(completed, "stage")
					break
				}
			}
		}
	}
	if rec.SubmitterKind == store.SubmitterGovernment && len(rec.SubmittingMembers) > 0 {
		rec.SubmitterKind = store.SubmitterMember
		completed = append(completed, "submitter_kind")
	}
	return completed
}

// bulkUpdate recomputes derived fields.
func bulkUpdate(rec *store.BillRecord) []string {
	var completed []string
	if q := validate.Validate(rec, validate.Standard).QualityScore; q != rec.DataQualityScore {
		rec.DataQualityScore = q
		completed = append(completed, "data_quality_score")
	}
	if rec.SourceChambers == "" {
		if rec.ChamberOfOrigin == store.ChamberShugiin {
			rec.SourceChambers = store.SourceShugiinOnly
		} else {
			rec.SourceChambers = store.SourceSangiinOnly
		}
		completed = append(completed, "source_chambers")
	}
	return completed
}

// recordFields flattens the mutable record fields into an update document.
func recordFields(rec *store.BillRecord) map[string]any {
	return map[string]any{
		"title":                 rec.Title,
		"outline":               rec.Outline,
		"background":            rec.Background,
		"expected_effects":      rec.ExpectedEffects,
		"key_provisions":        rec.KeyProvisions,
		"related_laws":          rec.RelatedLaws,
		"sponsoring_ministry":   rec.SponsoringMinistry,
		"submitting_members":    rec.SubmittingMembers,
		"committee_assignments": rec.CommitteeAssignments,
		"voting_results":        rec.VotingResults,
		"status":                rec.Status,
		"stage":                 rec.Stage,
		"submitter_kind":        rec.SubmitterKind,
		"session_number":        rec.SessionNumber,
		"source_chambers":       rec.SourceChambers,
		"data_quality_score":    rec.DataQualityScore,
		"last_updated":          rec.LastUpdated,
	}
}
