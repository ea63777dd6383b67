package progress

import (
	"testing"
	"time"

	"github.com/openkokkai/billtracker/store"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	t := NewTracker()
	t.now = func() time.Time { return testNow }
	return t
}

func activeRecord() *store.BillRecord {
	submitted := testNow.AddDate(0, 0, -20)
	referred := testNow.AddDate(0, 0, -10)
	return &store.BillRecord{
		BillID:                "S-217-1",
		ChamberOfOrigin:       store.ChamberSangiin,
		SessionNumber:         217,
		Title:                 "デジタル社会形成基本法案",
		Status:                store.StatusInCommittee,
		Stage:                 store.StageCommitteeReview,
		SubmitterKind:         store.SubmitterGovernment,
		Outline:               "デジタル社会の形成に関する基本理念を定める法律案",
		CommitteeAssignments:  map[string]string{"sangiin": "内閣委員会"},
		SubmittedDate:         &submitted,
		CommitteeReferralDate: &referred,
		LastUpdated:           testNow.AddDate(0, 0, -10),
		SourceChambers:        store.SourceBoth,
	}
}

func TestTrackActiveRecord(t *testing.T) {
	res := newTestTracker().Track(activeRecord())
	if res.Status != StatusActive {
		t.Fatalf("status = %q, want active", res.Status)
	}
	for _, a := range res.Alerts {
		if a.Kind == AlertStall {
			t.Errorf("unexpected stall alert: %+v", a)
		}
	}
	if len(res.History) < 2 {
		t.Fatalf("history = %+v, want submitted and committee stages", res.History)
	}
	if len(res.Transitions) != len(res.History)-1 {
		t.Errorf("transitions = %d for history %d", len(res.Transitions), len(res.History))
	}
	if res.Transitions[0].DurationDays != 10 {
		t.Errorf("first transition duration = %f, want 10", res.Transitions[0].DurationDays)
	}
}

func TestTrackStatusMapping(t *testing.T) {
	cases := []struct {
		stage store.Stage
		want  TrackingStatus
	}{
		{store.StageEnacted, StatusCompleted},
		{store.StageRejected, StatusCompleted},
		{store.StageWithdrawn, StatusCompleted},
		{store.StageExpired, StatusCompleted},
		{store.StageContinued, StatusSuspended},
		{store.StageCommitteeReview, StatusActive},
	}
	tracker := newTestTracker()
	for _, c := range cases {
		rec := activeRecord()
		rec.Stage = c.stage
		if got := tracker.Track(rec).Status; got != c.want {
			t.Errorf("stage %q status = %q, want %q", c.stage, got, c.want)
		}
	}
}

func TestTrackStall(t *testing.T) {
	rec := activeRecord()
	stale := testNow.AddDate(0, 0, -45)
	rec.SubmittedDate = &stale
	rec.CommitteeReferralDate = nil
	rec.LastUpdated = stale

	res := newTestTracker().Track(rec)
	if res.Status != StatusActive {
		t.Fatalf("status = %q, want active", res.Status)
	}
	var stalled bool
	for _, a := range res.Alerts {
		if a.Kind == AlertStall {
			stalled = true
		}
	}
	if !stalled {
		t.Errorf("expected stall alert after 45 days, alerts = %+v", res.Alerts)
	}
	if res.Snapshot.Freshness > 0.88 {
		t.Errorf("freshness = %f, want <= 0.88 at 45 days", res.Snapshot.Freshness)
	}
}

func TestTrackDelayAlert(t *testing.T) {
	rec := activeRecord()
	submitted := testNow.AddDate(0, 0, -100)
	referred := testNow.AddDate(0, 0, -5)
	rec.SubmittedDate = &submitted
	rec.CommitteeReferralDate = &referred
	rec.LastUpdated = referred

	res := newTestTracker().Track(rec)
	var delayed bool
	for _, a := range res.Alerts {
		if a.Kind == AlertDelay {
			delayed = true
		}
	}
	if !delayed {
		t.Errorf("expected delay alert for 95-day transition, alerts = %+v", res.Alerts)
	}
}

func TestTrackUnusualProgression(t *testing.T) {
	rec := activeRecord()
	promulgated := testNow.AddDate(0, 0, -30)
	rec.PromulgatedDate = &promulgated
	rec.Stage = store.StageCommitteeReview
	rec.LastUpdated = testNow.AddDate(0, 0, -5) // moved after a terminal stage

	res := newTestTracker().Track(rec)
	var unusual bool
	for _, a := range res.Alerts {
		if a.Kind == AlertUnusualProgression {
			unusual = true
		}
	}
	if !unusual {
		t.Errorf("expected unusual progression alert, alerts = %+v", res.Alerts)
	}
}

func TestTrackMissingDataAlerts(t *testing.T) {
	rec := activeRecord()
	rec.Outline = ""
	rec.CommitteeAssignments = nil
	res := newTestTracker().Track(rec)
	var missing int
	for _, a := range res.Alerts {
		if a.Kind == AlertMissingData {
			missing++
		}
	}
	if missing != 2 {
		t.Errorf("missing data alerts = %d, want 2", missing)
	}
}

func TestTrackConfidenceComposition(t *testing.T) {
	res := newTestTracker().Track(activeRecord())
	s := res.Snapshot
	want := 0.4*s.Completeness + 0.3*s.Freshness + 0.2*s.SourceReliability + 0.1*s.Consistency
	if s.Confidence != want {
		t.Errorf("confidence = %f, want %f", s.Confidence, want)
	}
	if s.SourceReliability != 1.0 {
		t.Errorf("reliability = %f, want 1.0 for multi-source record", s.SourceReliability)
	}
}

func TestTrackErrorOnEmptyRecord(t *testing.T) {
	if res := newTestTracker().Track(nil); res.Status != StatusError {
		t.Errorf("nil record status = %q, want error", res.Status)
	}
	if res := newTestTracker().Track(&store.BillRecord{}); res.Status != StatusError {
		t.Errorf("empty record status = %q, want error", res.Status)
	}
}
