package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/openkokkai/billtracker/migration"
	"github.com/openkokkai/billtracker/pdfextract"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/taskqueue"
	"github.com/openkokkai/billtracker/validate"
)

// stubCollector feeds canned records into the pipeline in place of the
// live chamber sites.
type stubCollector struct {
	byChamber map[store.Chamber][]*store.BillRecord
	collected []store.Chamber
	scrapeFn  func(ctx context.Context, rec *store.BillRecord) (*store.BillRecord, error)
}

func (s *stubCollector) CollectRecords(_ context.Context, chamber store.Chamber) ([]*store.BillRecord, error) {
	s.collected = append(s.collected, chamber)
	return s.byChamber[chamber], nil
}

func (s *stubCollector) Scrape(ctx context.Context, rec *store.BillRecord) (*store.BillRecord, error) {
	if s.scrapeFn == nil {
		return nil, fmt.Errorf("no scrape data for %s", rec.BillID)
	}
	return s.scrapeFn(ctx, rec)
}

func chamberBill(id string, chamber store.Chamber, title string) *store.BillRecord {
	submitted := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	return &store.BillRecord{
		BillID:          id,
		ChamberOfOrigin: chamber,
		SessionNumber:   217,
		Title:           title,
		Outline:         "行政手続のデジタル化を推進するための基本方針を定める",
		Status:          store.StatusInCommittee,
		Stage:           store.StageCommitteeReview,
		SubmitterKind:   store.SubmitterGovernment,
		SubmittedDate:   &submitted,
		SourceURLs:      []string{"https://example.test/" + id},
		LastUpdated:     time.Now(),
	}
}

func TestPipelineIngestMergesAndStores(t *testing.T) {
	st := store.NewMemoryStore()
	sangiin := chamberBill("S-217-1", store.ChamberSangiin, "デジタル社会形成基本法案")
	sangiin.SubmitterKind = store.SubmitterMember
	sangiin.SubmittingMembers = []string{"山田太郎"}
	shugiin := chamberBill("H-217-1", store.ChamberShugiin, "デジタル社会形成基本法案")
	shugiin.SubmitterKind = store.SubmitterMember
	shugiin.Outline = ""

	collector := &stubCollector{byChamber: map[store.Chamber][]*store.BillRecord{
		store.ChamberSangiin: {sangiin},
		store.ChamberShugiin: {shugiin},
	}}
	p := NewPipeline(st, collector, t.TempDir())

	summary, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(collector.collected) != 2 {
		t.Fatalf("collected chambers = %v, want both", collector.collected)
	}
	if summary.Merged != 1 || summary.Matched != 1 || summary.Stored != 1 {
		t.Fatalf("summary = %+v, want 1 merged, 1 matched, 1 stored", summary)
	}

	stored, err := st.GetBill(context.Background(), "S-217-1")
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if stored.SourceChambers != store.SourceBoth {
		t.Errorf("source chambers = %q, want both", stored.SourceChambers)
	}
	// The persisted score is the validator formula, not the parser's
	// provisional fill score.
	want := validate.Validate(stored, validate.Standard).QualityScore
	if stored.DataQualityScore != want {
		t.Errorf("quality score = %f, want validator score %f", stored.DataQualityScore, want)
	}

	members, err := st.ListMembers(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 || members[0].Name != "山田太郎" {
		t.Fatalf("members = %+v, want the submitting member upserted", members)
	}
}

func TestPipelineIngestSingleChamber(t *testing.T) {
	st := store.NewMemoryStore()
	collector := &stubCollector{byChamber: map[store.Chamber][]*store.BillRecord{
		store.ChamberShugiin: {chamberBill("H-217-5", store.ChamberShugiin, "予算関連法案")},
	}}
	p := NewPipeline(st, collector, t.TempDir())

	summary, err := p.Ingest(context.Background(), store.ChamberShugiin)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(collector.collected) != 1 || collector.collected[0] != store.ChamberShugiin {
		t.Fatalf("collected chambers = %v, want shugiin only", collector.collected)
	}
	if summary.Stored != 1 {
		t.Fatalf("summary = %+v, want 1 stored", summary)
	}
	stored, err := st.GetBill(context.Background(), "H-217-5")
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if stored.SourceChambers != store.SourceShugiinOnly {
		t.Errorf("source chambers = %q, want shugiin_only", stored.SourceChambers)
	}
}

func TestPipelineRepairCompletesMissingFields(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	broken := chamberBill("S-217-2", store.ChamberSangiin, "環境影響評価法の一部を改正する法律案")
	broken.SessionNumber = 0
	if err := st.CreateBill(ctx, broken); err != nil {
		t.Fatalf("seed bill: %v", err)
	}

	collector := &stubCollector{
		scrapeFn: func(_ context.Context, rec *store.BillRecord) (*store.BillRecord, error) {
			fresh := *rec
			fresh.SessionNumber = 217
			return &fresh, nil
		},
	}
	p := NewPipeline(st, collector, t.TempDir())

	report, batch, err := p.Repair(ctx)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(report.Issues) == 0 {
		t.Fatal("audit found no issues, expected missing session_number")
	}
	if batch.Completed < 1 {
		t.Fatalf("batch = %+v, want at least one completed task", batch)
	}

	stored, err := st.GetBill(ctx, "S-217-2")
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if stored.SessionNumber != 217 {
		t.Errorf("session number = %d, want 217 scraped in", stored.SessionNumber)
	}
	want := validate.Validate(stored, validate.Standard).QualityScore
	if stored.DataQualityScore != want {
		t.Errorf("quality score = %f, want validator score %f", stored.DataQualityScore, want)
	}

	history, err := st.ListHistory(ctx, "S-217-2", 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	var sawCompletion bool
	for _, ev := range history {
		if ev.Event == "data_completion" {
			sawCompletion = true
		}
	}
	if !sawCompletion {
		t.Error("no data_completion history event recorded")
	}
}

func TestPipelineMigrateWritesReport(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.CreateBill(ctx, chamberBill("S-217-3", store.ChamberSangiin, "地方自治法の一部を改正する法律案")); err != nil {
		t.Fatalf("seed bill: %v", err)
	}

	reportsDir := t.TempDir()
	p := NewPipeline(st, &stubCollector{}, reportsDir)

	exec, report := p.Migrate(ctx, nil)
	if exec == nil || report == nil {
		t.Fatal("Migrate returned nil execution or report")
	}
	if exec.Status != migration.StatusCompleted {
		t.Fatalf("execution = %+v, want completed", exec)
	}
	entries, err := os.ReadDir(reportsDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("reports written = %d, want 1", len(entries))
	}
}

func TestPipelineExtractVotesRecordsTally(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.CreateBill(ctx, chamberBill("S-217-4", store.ChamberSangiin, "労働基準法の一部を改正する法律案")); err != nil {
		t.Fatalf("seed bill: %v", err)
	}
	if err := st.UpsertMember(ctx, &store.Member{MemberID: "m-1", Name: "山田太郎", House: store.ChamberSangiin, Active: true}); err != nil {
		t.Fatalf("seed member: %v", err)
	}

	p := NewPipeline(st, &stubCollector{}, t.TempDir())
	var gotKnown []string
	p.extract = func(_ context.Context, _ []byte, known []string) (*pdfextract.VotingSession, error) {
		gotKnown = known
		return &pdfextract.VotingSession{
			SessionID: "sess-1",
			Strategy:  "text_layer",
			Records: []pdfextract.VoteRecord{
				{Name: "山田太郎", Vote: pdfextract.VoteYes},
				{Name: "鈴木花子", Vote: pdfextract.VoteYes},
				{Name: "佐藤一郎", Vote: pdfextract.VoteNo},
			},
		}, nil
	}

	session, err := p.ExtractVotes(ctx, "S-217-4", []byte("%PDF"))
	if err != nil {
		t.Fatalf("ExtractVotes: %v", err)
	}
	if session.SessionID != "sess-1" {
		t.Fatalf("session = %+v", session)
	}
	if len(gotKnown) != 1 || gotKnown[0] != "山田太郎" {
		t.Fatalf("known members = %v, want the stored roster", gotKnown)
	}

	stored, err := st.GetBill(ctx, "S-217-4")
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if stored.VotingResults["yes"] != "2" || stored.VotingResults["no"] != "1" {
		t.Fatalf("voting results = %v, want yes=2 no=1", stored.VotingResults)
	}

	history, err := st.ListHistory(ctx, "S-217-4", 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	var sawExtract bool
	for _, ev := range history {
		if ev.Event == "voting_record_extracted" {
			sawExtract = true
		}
	}
	if !sawExtract {
		t.Error("no voting_record_extracted history event recorded")
	}
}

func TestPipelineExtractVotesUnknownBill(t *testing.T) {
	p := NewPipeline(store.NewMemoryStore(), &stubCollector{}, t.TempDir())
	if _, err := p.ExtractVotes(context.Background(), "S-217-99", []byte("%PDF")); err != store.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRepairAndMigrationEndpointsQueueJobs(t *testing.T) {
	env := newTestEnv(t, false)

	rec, payload := env.do(t, http.MethodPost, "/admin/repair", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("repair status = %d body %v", rec.Code, payload)
	}
	jobID := payload["job_id"].(string)
	status, err := env.queue.JobStatus(jobID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status.State != taskqueue.StateQueued {
		t.Fatalf("repair job state = %v, want queued", status.State)
	}

	rec, payload = env.do(t, http.MethodPost, "/admin/migration/run", `{"bill_ids":["S-217-1"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("migration status = %d body %v", rec.Code, payload)
	}
	if _, ok := payload["job_id"].(string); !ok {
		t.Fatalf("payload = %v, want job_id", payload)
	}
}

func TestCollectAcceptsBothHouses(t *testing.T) {
	env := newTestEnv(t, false)
	rec, payload := env.do(t, http.MethodPost, "/admin/members/collect", `{"house":"both"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %v", rec.Code, payload)
	}
	if payload["house"] != "both" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestVotesExtractEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	rec, payload := env.do(t, http.MethodPost, "/admin/votes/extract", `{"bill_id":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty body status = %d, want 422", rec.Code)
	}

	rec, payload = env.do(t, http.MethodPost, "/admin/votes/extract",
		`{"bill_id":"S-217-1","pdf_base64":"!!not-base64!!"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad base64 status = %d, want 422", rec.Code)
	}

	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF"))
	rec, payload = env.do(t, http.MethodPost, "/admin/votes/extract",
		fmt.Sprintf(`{"bill_id":"S-217-99","pdf_base64":"%s"}`, pdf))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown bill status = %d, want 404", rec.Code)
	}

	if err := env.store.CreateBill(context.Background(), chamberBill("S-217-6", store.ChamberSangiin, "道路交通法の一部を改正する法律案")); err != nil {
		t.Fatalf("seed bill: %v", err)
	}
	env.pipeline.extract = func(context.Context, []byte, []string) (*pdfextract.VotingSession, error) {
		return &pdfextract.VotingSession{
			SessionID: "sess-2",
			Strategy:  "text_layer",
			Records:   []pdfextract.VoteRecord{{Name: "山田太郎", Vote: pdfextract.VoteYes}},
		}, nil
	}
	rec, payload = env.do(t, http.MethodPost, "/admin/votes/extract",
		fmt.Sprintf(`{"bill_id":"S-217-6","pdf_base64":"%s"}`, pdf))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %v", rec.Code, payload)
	}
	tally := payload["tally"].(map[string]any)
	if tally["yes"] != float64(1) {
		t.Fatalf("tally = %v, want yes=1", tally)
	}
}
