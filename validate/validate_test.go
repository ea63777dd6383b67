package validate

import (
	"testing"
	"time"

	"github.com/openkokkai/billtracker/store"
)

func goodRecord() *store.BillRecord {
	submitted := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	referred := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	return &store.BillRecord{
		BillID:                "S-217-1",
		ChamberOfOrigin:       store.ChamberSangiin,
		SessionNumber:         217,
		Title:                 "デジタル社会形成基本法案",
		Status:                store.StatusInCommittee,
		Stage:                 store.StageCommitteeReview,
		SubmitterKind:         store.SubmitterGovernment,
		Outline:               "デジタル社会の形成に関する基本理念を定める法律案",
		SubmittedDate:         &submitted,
		CommitteeReferralDate: &referred,
		DataQualityScore:      0.7,
	}
}

func TestValidateGoodRecord(t *testing.T) {
	res := Validate(goodRecord(), Standard)
	if !res.IsValid {
		t.Fatalf("expected valid, issues = %+v", res.Issues)
	}
	if len(res.Issues) != 0 {
		t.Errorf("issues = %+v, want none", res.Issues)
	}
	if res.FormatScore != 1 || res.ConsistencyScore != 1 {
		t.Errorf("format = %f, consistency = %f, want 1", res.FormatScore, res.ConsistencyScore)
	}
	if res.CompletenessScore <= 0.8 {
		t.Errorf("completeness = %f, want > 0.8 with all required filled", res.CompletenessScore)
	}
}

func TestValidateMinimalRecord(t *testing.T) {
	rec := &store.BillRecord{
		Status:        store.StatusUnknown,
		SubmitterKind: store.SubmitterUnknown,
	}
	res := Validate(rec, Standard)

	var criticals int
	for _, issue := range res.Issues {
		if issue.Severity == SeverityCritical {
			criticals++
		}
	}
	if criticals < 4 {
		t.Errorf("criticals = %d, want >= 4", criticals)
	}
	if res.IsValid {
		t.Error("minimal record should not be valid")
	}
	if res.CompletenessScore >= 0.3 {
		t.Errorf("completeness = %f, want < 0.3", res.CompletenessScore)
	}
	if res.QualityScore >= 0.3 {
		t.Errorf("quality = %f, want < 0.3", res.QualityScore)
	}
}

func TestValidateLevels(t *testing.T) {
	rec := &store.BillRecord{
		BillID: "S-217-2",
		Title:  "地域公共交通の活性化に関する法律案",
		Status: store.StatusIntroduced,
	}
	basic := Validate(rec, Basic)
	if !basic.IsValid {
		t.Errorf("basic level should pass, issues = %+v", basic.Issues)
	}
	standard := Validate(rec, Standard)
	if standard.IsValid {
		t.Error("standard level should fail without session and chamber")
	}
	comprehensive := Validate(rec, Comprehensive)
	if len(comprehensive.Issues) <= len(standard.Issues) {
		t.Error("comprehensive level should add outline and stage requirements")
	}
}

func TestValidateStatusStageConsistency(t *testing.T) {
	rec := goodRecord()
	rec.Status = store.StatusEnacted
	rec.Stage = store.StageCommitteeReview
	res := Validate(rec, Standard)
	if !hasIssue(res.Issues, "stage", KindInconsistent) {
		t.Errorf("expected stage/status inconsistency, issues = %+v", res.Issues)
	}

	rec.Stage = store.StageEnacted
	res = Validate(rec, Standard)
	if hasIssue(res.Issues, "stage", KindInconsistent) {
		t.Error("enacted/enacted should be consistent")
	}
}

func TestValidateDateMonotonicity(t *testing.T) {
	rec := goodRecord()
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.FinalVoteDate = &early // before submitted_date
	res := Validate(rec, Standard)
	if !hasIssue(res.Issues, "final_vote_date", KindDateOrder) {
		t.Errorf("expected date order issue, issues = %+v", res.Issues)
	}

	rec = goodRecord()
	res = Validate(rec, Standard)
	for _, issue := range res.Issues {
		if issue.Kind == KindDateOrder {
			t.Errorf("ordered dates flagged: %+v", issue)
		}
	}
}

func TestValidateJapaneseText(t *testing.T) {
	rec := goodRecord()
	rec.Outline = "short"
	res := Validate(rec, Standard)
	if !hasIssue(res.Issues, "outline", KindPoorJapanese) {
		t.Errorf("expected poor japanese issue, issues = %+v", res.Issues)
	}
	for _, issue := range res.Issues {
		if issue.Field == "outline" && issue.Severity != SeverityInfo {
			t.Errorf("japanese text issue severity = %q, want info", issue.Severity)
		}
	}
}

func TestValidateFormat(t *testing.T) {
	rec := goodRecord()
	rec.BillID = "billno-1"
	rec.DataQualityScore = 1.5
	res := Validate(rec, Standard)
	if !hasIssue(res.Issues, "bill_id", KindInvalidFormat) {
		t.Error("expected bill id format issue")
	}
	if !hasIssue(res.Issues, "data_quality_score", KindInvalidFormat) {
		t.Error("expected quality score range issue")
	}
	if res.FormatScore != 0.8 {
		t.Errorf("format score = %f, want 0.8 with two format issues", res.FormatScore)
	}
}

func TestValidateGovernmentBillWithMembers(t *testing.T) {
	rec := goodRecord()
	rec.SubmittingMembers = []string{"山田太郎"}
	res := Validate(rec, Standard)
	if !hasIssue(res.Issues, "submitter_kind", KindInconsistent) {
		t.Errorf("expected submitter inconsistency, issues = %+v", res.Issues)
	}
}

func hasIssue(issues []Issue, field, kind string) bool {
	for _, issue := range issues {
		if issue.Field == field && issue.Kind == kind {
			return true
		}
	}
	return false
}
