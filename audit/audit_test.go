package audit

import (
	"math"
	"testing"
	"time"

	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/validate"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestAuditor() *Auditor {
	a := NewAuditor()
	a.now = func() time.Time { return testNow }
	return a
}

func record(id string, quality float64, updated time.Time) *store.BillRecord {
	return &store.BillRecord{
		BillID:           id,
		ChamberOfOrigin:  store.ChamberSangiin,
		SessionNumber:    217,
		Title:            "記録" + id + "に関する法律案",
		Status:           store.StatusInCommittee,
		Stage:            store.StageCommitteeReview,
		SubmitterKind:    store.SubmitterGovernment,
		Outline:          "この法律案の趣旨に関する十分な長さの説明文",
		LastUpdated:      updated,
		DataQualityScore: quality,
	}
}

func TestAuditEmptyCorpus(t *testing.T) {
	report := newTestAuditor().Audit(nil)
	if report == nil {
		t.Fatal("empty corpus must still produce a report")
	}
	if report.Overall.Total != 0 {
		t.Errorf("total = %d, want 0", report.Overall.Total)
	}
	if report.Trend.Direction != TrendStable {
		t.Errorf("trend = %q, want stable", report.Trend.Direction)
	}
	if len(report.Issues) != 0 {
		t.Errorf("issues = %+v, want none", report.Issues)
	}
}

func TestAuditOverallComposition(t *testing.T) {
	records := []*store.BillRecord{
		record("S-217-1", 0.8, testNow.AddDate(0, 0, -1)),
		record("S-217-2", 0.6, testNow.AddDate(0, 0, -2)),
	}
	report := newTestAuditor().Audit(records)
	if report.Overall.Total != 2 || report.Overall.Valid != 2 {
		t.Fatalf("overall = %+v, want 2 valid", report.Overall)
	}
	o := report.Overall
	want := 0.3*o.CompletenessRate + 0.25*o.AccuracyRate + 0.25*o.ConsistencyRate + 0.2*o.TimelinessRate
	if math.Abs(o.OverallQualityScore-want) > 1e-9 {
		t.Errorf("overall quality = %f, want %f", o.OverallQualityScore, want)
	}
	if o.TimelinessRate < 0.98 {
		t.Errorf("timeliness = %f, want near 1 for fresh records", o.TimelinessRate)
	}
}

func TestAuditIssueDedup(t *testing.T) {
	rec := record("S-217-3", 0.5, testNow)
	rec.Outline = "short"
	report := newTestAuditor().Audit([]*store.BillRecord{rec, rec})
	var outlineIssues int
	for _, issue := range report.Issues {
		if issue.BillID == "S-217-3" && issue.Field == "outline" && issue.Kind == validate.KindPoorJapanese {
			outlineIssues++
		}
	}
	if outlineIssues != 1 {
		t.Errorf("outline issues = %d, want deduplicated to 1", outlineIssues)
	}
}

func TestAuditDuplicateDetection(t *testing.T) {
	a := record("S-217-4", 0.7, testNow)
	b := record("S-217-5", 0.7, testNow)
	b.Title = a.Title // same title, session, chamber
	report := newTestAuditor().Audit([]*store.BillRecord{a, b})

	var dup *validate.Issue
	for i := range report.Issues {
		if report.Issues[i].Kind == "duplicate_record" {
			dup = &report.Issues[i]
		}
	}
	if dup == nil {
		t.Fatal("expected duplicate_record issue")
	}
	if dup.BillID != "S-217-5" {
		t.Errorf("duplicate flagged on %q, want the later record", dup.BillID)
	}
}

func TestAuditFieldFillRates(t *testing.T) {
	a := record("S-217-6", 0.7, testNow)
	b := record("S-217-7", 0.7, testNow)
	b.Outline = ""
	report := newTestAuditor().Audit([]*store.BillRecord{a, b})
	if got := report.FieldFillRates["outline"]; got != 0.5 {
		t.Errorf("outline fill rate = %f, want 0.5", got)
	}
	if got := report.FieldFillRates["voting_results"]; got != 0 {
		t.Errorf("voting results fill rate = %f, want 0", got)
	}
}

func TestAuditTrendImproving(t *testing.T) {
	var records []*store.BillRecord
	// Quality climbs 0.1 per day over five days.
	for i := 0; i < 5; i++ {
		q := 0.5 + 0.1*float64(i)
		records = append(records, record(dayID(i), q, testNow.AddDate(0, 0, i-4)))
	}
	report := newTestAuditor().Audit(records)
	if report.Trend.Direction != TrendImproving {
		t.Errorf("trend = %q (slope %f), want improving", report.Trend.Direction, report.Trend.Slope)
	}
	if len(report.Trend.Daily) != 5 {
		t.Errorf("daily points = %d, want 5", len(report.Trend.Daily))
	}
}

func TestAuditTrendStable(t *testing.T) {
	var records []*store.BillRecord
	for i := 0; i < 5; i++ {
		records = append(records, record(dayID(i), 0.7, testNow.AddDate(0, 0, i-4)))
	}
	report := newTestAuditor().Audit(records)
	if report.Trend.Direction != TrendStable {
		t.Errorf("trend = %q (slope %f), want stable", report.Trend.Direction, report.Trend.Slope)
	}
}

func TestAuditRecommendationsAndPriorities(t *testing.T) {
	rec := record("S-217-8", 0.4, testNow)
	rec.Title = ""
	rec.Outline = ""
	report := newTestAuditor().Audit([]*store.BillRecord{rec})
	if len(report.Recommendations) == 0 {
		t.Error("expected recommendations for a weak corpus")
	}
	if len(report.Priorities) == 0 {
		t.Error("expected priorities for a corpus with critical issues")
	}
}

func dayID(i int) string {
	return "S-217-1" + string(rune('0'+i))
}
