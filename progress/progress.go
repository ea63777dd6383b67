// Package progress tracks where a bill sits in the legislative process and
// raises alerts on stalled or inconsistent progressions.
package progress

import (
	"fmt"
	"sort"
	"time"

	"github.com/openkokkai/billtracker/parser"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/validate"
)

// TrackingStatus is the coarse state of a tracked bill.
type TrackingStatus string

const (
	StatusActive    TrackingStatus = "active"
	StatusCompleted TrackingStatus = "completed"
	StatusSuspended TrackingStatus = "suspended"
	StatusError     TrackingStatus = "error"
)

// Alert kinds raised by Track.
const (
	AlertStall              = "stall"
	AlertDelay              = "delay"
	AlertLowConfidence      = "low_confidence"
	AlertMissingData        = "missing_data"
	AlertUnusualProgression = "unusual_progression"
)

const (
	stallThresholdDays = 30
	delayThresholdDays = 60
	freshnessWindow    = 365 * 24 * time.Hour
)

// StageEvent is one dated point in a bill's stage history.
type StageEvent struct {
	Stage store.Stage `json:"stage"`
	Date  time.Time   `json:"date"`
}

// Transition is a consecutive stage pair with its elapsed time.
type Transition struct {
	From         store.Stage `json:"from"`
	To           store.Stage `json:"to"`
	Date         time.Time   `json:"date"`
	DurationDays float64     `json:"duration_days"`
}

// Alert flags a tracking anomaly.
type Alert struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot is the current-state summary with its confidence breakdown.
type Snapshot struct {
	BillID            string           `json:"bill_id"`
	Stage             store.Stage      `json:"stage"`
	Status            store.BillStatus `json:"status"`
	LastAction        time.Time        `json:"last_action"`
	Completeness      float64          `json:"completeness"`
	Freshness         float64          `json:"freshness"`
	SourceReliability float64          `json:"source_reliability"`
	Consistency       float64          `json:"consistency"`
	Confidence        float64          `json:"confidence"`
}

// TrackingResult is the full output of Track.
type TrackingResult struct {
	Status      TrackingStatus `json:"status"`
	Snapshot    Snapshot       `json:"snapshot"`
	History     []StageEvent   `json:"history"`
	Transitions []Transition   `json:"transitions"`
	Alerts      []Alert        `json:"alerts"`
}

// Tracker computes tracking results. The clock is injectable for tests.
type Tracker struct {
	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Track derives history, transitions, status, alerts, and the confidence
// snapshot for one record.
func (t *Tracker) Track(rec *store.BillRecord) TrackingResult {
	if rec == nil || rec.BillID == "" {
		return TrackingResult{Status: StatusError}
	}
	now := t.now()

	history := stageHistory(rec)
	transitions := computeTransitions(history)
	lastAction := lastActionTime(rec)

	status := trackingStatus(rec.Stage)
	alerts := t.alerts(rec, transitions, lastAction, now, status)
	snapshot := t.snapshot(rec, lastAction, now)
	if snapshot.Confidence < 0.5 {
		alerts = append(alerts, Alert{
			Kind:    AlertLowConfidence,
			Message: fmt.Sprintf("tracking confidence %.2f below 0.5", snapshot.Confidence),
		})
	}

	return TrackingResult{
		Status:      status,
		Snapshot:    snapshot,
		History:     history,
		Transitions: transitions,
		Alerts:      alerts,
	}
}

func trackingStatus(stage store.Stage) TrackingStatus {
	if stage.Terminal() {
		return StatusCompleted
	}
	if stage == store.StageContinued {
		return StatusSuspended
	}
	return StatusActive
}

// stageHistory derives dated stage events from the record's lifecycle dates
// plus the current stage at last_updated.
func stageHistory(rec *store.BillRecord) []StageEvent {
	dateStages := []struct {
		date  *time.Time
		stage store.Stage
	}{
		{rec.SubmittedDate, store.StageSubmitted},
		{rec.CommitteeReferralDate, store.StageCommitteeReferred},
		{rec.CommitteeReportDate, store.StageCommitteeVote},
		{rec.FinalVoteDate, store.StagePlenaryVote},
		{rec.PromulgatedDate, store.StageEnacted},
	}
	var history []StageEvent
	for _, ds := range dateStages {
		if ds.date != nil {
			history = append(history, StageEvent{Stage: ds.stage, Date: *ds.date})
		}
	}
	if rec.Stage != "" && !rec.LastUpdated.IsZero() {
		if len(history) == 0 || history[len(history)-1].Stage != rec.Stage {
			history = append(history, StageEvent{Stage: rec.Stage, Date: rec.LastUpdated})
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.Before(history[j].Date)
	})
	return history
}

func computeTransitions(history []StageEvent) []Transition {
	var out []Transition
	for i := 0; i+1 < len(history); i++ {
		from, to := history[i], history[i+1]
		out = append(out, Transition{
			From:         from.Stage,
			To:           to.Stage,
			Date:         to.Date,
			DurationDays: to.Date.Sub(from.Date).Hours() / 24,
		})
	}
	return out
}

func lastActionTime(rec *store.BillRecord) time.Time {
	var last time.Time
	for _, d := range rec.LifecycleDates() {
		if d.Date != nil && d.Date.After(last) {
			last = *d.Date
		}
	}
	if last.IsZero() {
		last = rec.LastUpdated
	}
	return last
}

func (t *Tracker) alerts(rec *store.BillRecord, transitions []Transition, lastAction time.Time, now time.Time, status TrackingStatus) []Alert {
	var alerts []Alert

	if status == StatusActive && !lastAction.IsZero() {
		if age := now.Sub(lastAction); age > stallThresholdDays*24*time.Hour {
			alerts = append(alerts, Alert{
				Kind:    AlertStall,
				Message: fmt.Sprintf("no action for %.0f days", age.Hours()/24),
			})
		}
	}

	for _, tr := range transitions {
		if tr.DurationDays > delayThresholdDays {
			alerts = append(alerts, Alert{
				Kind:    AlertDelay,
				Message: fmt.Sprintf("%s to %s took %.0f days", tr.From, tr.To, tr.DurationDays),
			})
		}
		if tr.From.Terminal() {
			alerts = append(alerts, Alert{
				Kind:    AlertUnusualProgression,
				Message: fmt.Sprintf("transition out of terminal stage %s", tr.From),
			})
		}
	}

	if rec.Outline == "" {
		alerts = append(alerts, Alert{Kind: AlertMissingData, Message: "outline is missing"})
	}
	if len(rec.CommitteeAssignments) == 0 {
		alerts = append(alerts, Alert{Kind: AlertMissingData, Message: "committee assignment is missing"})
	}
	return alerts
}

func (t *Tracker) snapshot(rec *store.BillRecord, lastAction, now time.Time) Snapshot {
	completeness := parser.QualityScore(rec)

	freshness := 0.0
	if !lastAction.IsZero() {
		age := now.Sub(lastAction)
		if age < 0 {
			age = 0
		}
		freshness = 1 - float64(age)/float64(freshnessWindow)
		if freshness < 0 {
			freshness = 0
		}
	}

	reliability := 0.8
	if rec.SourceChambers == store.SourceBoth {
		reliability = 1.0
	}

	consistency := validate.Validate(rec, validate.Standard).ConsistencyScore

	return Snapshot{
		BillID:            rec.BillID,
		Stage:             rec.Stage,
		Status:            rec.Status,
		LastAction:        lastAction,
		Completeness:      completeness,
		Freshness:         freshness,
		SourceReliability: reliability,
		Consistency:       consistency,
		Confidence:        0.4*completeness + 0.3*freshness + 0.2*reliability + 0.1*consistency,
	}
}
