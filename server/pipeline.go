package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/openkokkai/billtracker/audit"
	"github.com/openkokkai/billtracker/completion"
	"github.com/openkokkai/billtracker/merge"
	"github.com/openkokkai/billtracker/migration"
	"github.com/openkokkai/billtracker/namematch"
	"github.com/openkokkai/billtracker/pdfextract"
	"github.com/openkokkai/billtracker/progress"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/validate"
)

// recordCollector is the network-facing side of the pipeline. The Ingestor
// satisfies it in production; tests substitute canned records.
type recordCollector interface {
	CollectRecords(ctx context.Context, chamber store.Chamber) ([]*store.BillRecord, error)
	completion.Scraper
}

// Pipeline composes the full data path: collect both chambers, merge the
// cross-chamber duplicates, score and track every merged record, and store
// it. It also owns the audit-driven repair loop, the phased migration run,
// and roll-call PDF extraction against the stored member roster.
type Pipeline struct {
	store     store.Store
	collector recordCollector
	merger    *merge.Engine
	tracker   *progress.Tracker
	auditor   *audit.Auditor
	executor  *completion.Executor
	orch      *migration.Orchestrator

	// extract is the PDF strategy ladder, replaceable in tests.
	extract func(ctx context.Context, pdfBytes []byte, knownMembers []string) (*pdfextract.VotingSession, error)
}

func NewPipeline(st store.Store, collector recordCollector, reportsDir string) *Pipeline {
	auditor := audit.NewAuditor()
	executor := completion.NewExecutor(st, collector)
	return &Pipeline{
		store:     st,
		collector: collector,
		merger:    merge.NewEngine(merge.MostComplete),
		tracker:   progress.NewTracker(),
		auditor:   auditor,
		executor:  executor,
		orch:      migration.NewOrchestrator(st, auditor, executor, reportsDir),
		extract:   pdfextract.New(pdfextract.DefaultConfig()).ExtractVotingSession,
	}
}

// IngestSummary reports one full collection pass.
type IngestSummary struct {
	Collected map[string]int `json:"collected"`
	Merged    int            `json:"merged"`
	Matched   int            `json:"matched"`
	Stored    int            `json:"stored"`
	Alerts    int            `json:"alerts"`
}

// Ingest collects the named chambers (both when none are given), merges the
// two sides, and stores every merged record. A single record failing to
// store logs and continues; a chamber failing to collect aborts the pass.
func (p *Pipeline) Ingest(ctx context.Context, chambers ...store.Chamber) (*IngestSummary, error) {
	if len(chambers) == 0 {
		chambers = []store.Chamber{store.ChamberSangiin, store.ChamberShugiin}
	}
	byChamber := make(map[store.Chamber][]*store.BillRecord)
	summary := &IngestSummary{Collected: make(map[string]int)}
	for _, chamber := range chambers {
		recs, err := p.collector.CollectRecords(ctx, chamber)
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", chamber, err)
		}
		byChamber[chamber] = recs
		summary.Collected[string(chamber)] = len(recs)
	}

	results := p.merger.Merge(byChamber[store.ChamberSangiin], byChamber[store.ChamberShugiin])
	summary.Merged = len(results)
	for _, res := range results {
		if res.Matched {
			summary.Matched++
		}
		if err := p.process(ctx, res.Record, summary); err != nil {
			log.Printf("pipeline: %s: %v", res.Record.BillID, err)
			continue
		}
		summary.Stored++
	}
	return summary, nil
}

// process scores, tracks, and stores one merged record. The stored
// data_quality_score always comes from the validator; the parser's fill
// score is provisional and never persisted past this point.
func (p *Pipeline) process(ctx context.Context, rec *store.BillRecord, summary *IngestSummary) error {
	rec.DataQualityScore = validate.Validate(rec, validate.Standard).QualityScore

	tracking := p.tracker.Track(rec)
	for _, alert := range tracking.Alerts {
		summary.Alerts++
		log.Printf("pipeline: %s tracking alert %s: %s", rec.BillID, alert.Kind, alert.Message)
	}

	if err := p.upsertBill(ctx, rec); err != nil {
		return err
	}
	p.upsertMembers(ctx, rec)
	return nil
}

func (p *Pipeline) upsertBill(ctx context.Context, rec *store.BillRecord) error {
	_, err := p.store.GetBill(ctx, rec.BillID)
	if err == store.ErrNotFound {
		return p.store.CreateBill(ctx, rec)
	}
	if err != nil {
		return err
	}
	_, err = p.store.UpdateBill(ctx, rec.BillID, map[string]any{
		"title":              rec.Title,
		"outline":            rec.Outline,
		"status":             rec.Status,
		"stage":              rec.Stage,
		"submitter_kind":     rec.SubmitterKind,
		"session_number":     rec.SessionNumber,
		"source_urls":        rec.SourceURLs,
		"source_chambers":    rec.SourceChambers,
		"voting_results":     rec.VotingResults,
		"data_quality_score": rec.DataQualityScore,
		"last_updated":       rec.LastUpdated,
	})
	return err
}

// upsertMembers records the bill's submitting members so the member
// endpoints and the PDF extractor's known-member list stay populated.
// Failures log and continue; member data is supplementary.
func (p *Pipeline) upsertMembers(ctx context.Context, rec *store.BillRecord) {
	for _, name := range rec.SubmittingMembers {
		id := namematch.Normalize(name)
		if id == "" {
			continue
		}
		err := p.store.UpsertMember(ctx, &store.Member{
			MemberID: id,
			Name:     name,
			House:    rec.ChamberOfOrigin,
			Active:   true,
		})
		if err != nil {
			log.Printf("pipeline: upsert member %s: %v", name, err)
		}
	}
}

// Repair audits the stored corpus, plans completion tasks from the issues,
// and executes them through the completion executor. The collector doubles
// as the executor's scraper, so scrape_missing tasks re-fetch live pages.
func (p *Pipeline) Repair(ctx context.Context) (*audit.Report, *completion.BatchResult, error) {
	records, err := p.store.ListBills(ctx, nil, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("list bills: %w", err)
	}
	report := p.auditor.Audit(records)
	tasks := completion.Plan(report.Issues)
	batch := p.executor.Execute(ctx, tasks)
	log.Printf("pipeline: repair ran %d tasks, %d completed, %d failed",
		batch.Total, batch.Completed, batch.Failed)
	return report, batch, nil
}

// Migrate runs the phased audit/plan/execute/validate cycle. Empty billIDs
// means the whole corpus.
func (p *Pipeline) Migrate(ctx context.Context, billIDs []string) (*migration.Execution, *migration.Report) {
	return p.orch.Run(ctx, billIDs)
}

// ExtractVotes parses a roll-call PDF for the bill, reconciling names
// against the stored member roster, and persists the tally on the bill's
// voting results along with a history event.
func (p *Pipeline) ExtractVotes(ctx context.Context, billID string, pdfBytes []byte) (*pdfextract.VotingSession, error) {
	rec, err := p.store.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	members, err := p.store.ListMembers(ctx, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	known := make([]string, 0, len(members))
	for _, m := range members {
		known = append(known, m.Name)
	}

	session, err := p.extract(ctx, pdfBytes, known)
	if err != nil {
		return nil, err
	}

	results := make(map[string]string)
	for k, v := range rec.VotingResults {
		results[k] = v
	}
	for vote, count := range session.Tally() {
		results[string(vote)] = fmt.Sprintf("%d", count)
	}
	if _, err := p.store.UpdateBill(ctx, billID, map[string]any{
		"voting_results": results,
		"last_updated":   time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("update voting results: %w", err)
	}
	herr := p.store.AppendHistory(ctx, &store.HistoryEvent{
		EventID:    uuid.NewString(),
		BillID:     billID,
		Event:      "voting_record_extracted",
		Strategy:   session.Strategy,
		RecordedAt: time.Now(),
	})
	if herr != nil {
		log.Printf("pipeline: history append for %s failed: %v", billID, herr)
	}
	return session, nil
}

// QualityMetrics is the audit-derived dashboard panel feed.
func (p *Pipeline) QualityMetrics(ctx context.Context) map[string]float64 {
	records, err := p.store.ListBills(ctx, nil, 0)
	if err != nil {
		return map[string]float64{"audit_errors": 1}
	}
	report := p.auditor.Audit(records)
	return map[string]float64{
		"audit_overall_score":    report.Overall.OverallQualityScore,
		"audit_open_issues":      float64(len(report.Issues)),
		"audit_records_assessed": float64(report.Overall.Total),
	}
}
