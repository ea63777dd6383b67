// Package audit produces corpus-wide quality reports over the bill record
// set.
package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/openkokkai/billtracker/parser"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/validate"
)

// Metrics is the aggregate quality summary for a record set or a field.
type Metrics struct {
	Total               int     `json:"total"`
	Valid               int     `json:"valid"`
	Invalid             int     `json:"invalid"`
	CompletenessRate    float64 `json:"completeness_rate"`
	AccuracyRate        float64 `json:"accuracy_rate"`
	ConsistencyRate     float64 `json:"consistency_rate"`
	TimelinessRate      float64 `json:"timeliness_rate"`
	OverallQualityScore float64 `json:"overall_quality_score"`
}

// TrendDirection classifies the quality slope over the trailing window.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// trendSlopeThreshold is the per-day slope beyond which the trend is no
// longer stable.
const trendSlopeThreshold = 0.05

// DailyQuality is one point of the trend series.
type DailyQuality struct {
	Date    string  `json:"date"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// Trend is the trailing-window quality trend.
type Trend struct {
	Direction TrendDirection `json:"direction"`
	Slope     float64        `json:"slope"`
	Daily     []DailyQuality `json:"daily"`
}

// Report is the full audit output.
type Report struct {
	GeneratedAt     time.Time          `json:"generated_at"`
	Overall         Metrics            `json:"overall"`
	FieldFillRates  map[string]float64 `json:"field_fill_rates"`
	Issues          []validate.Issue   `json:"issues"`
	Recommendations []string           `json:"recommendations"`
	Priorities      []string           `json:"priorities"`
	Trend           Trend              `json:"trend"`
}

// Auditor computes reports. The clock and trend window are injectable.
type Auditor struct {
	TrendWindowDays int
	now             func() time.Time
}

func NewAuditor() *Auditor {
	return &Auditor{TrendWindowDays: 30, now: time.Now}
}

var auditedFields = []string{
	"outline", "background", "expected_effects", "key_provisions",
	"related_laws", "sponsoring_ministry", "submitting_members",
	"committee_assignments", "voting_results", "submitted_date",
	"implementation_date",
}

// Audit validates every record, aggregates the scores, detects duplicates,
// and derives recommendations and priorities. An empty corpus yields a
// defined zero report.
func (a *Auditor) Audit(records []*store.BillRecord) *Report {
	now := a.now()
	report := &Report{
		GeneratedAt:    now,
		FieldFillRates: make(map[string]float64),
		Trend:          Trend{Direction: TrendStable},
	}
	if len(records) == 0 {
		return report
	}

	var sumCompleteness, sumAccuracy, sumConsistency, sumTimeliness float64
	seen := make(map[string]bool)
	fieldCounts := make(map[string]int)

	for _, rec := range records {
		res := validate.Validate(rec, validate.Standard)
		report.Overall.Total++
		if res.IsValid {
			report.Overall.Valid++
		} else {
			report.Overall.Invalid++
		}
		sumCompleteness += res.CompletenessScore
		sumAccuracy += res.FormatScore
		sumConsistency += res.ConsistencyScore
		sumTimeliness += timeliness(rec, now)

		for _, issue := range res.Issues {
			key := issue.BillID + "\x00" + issue.Field + "\x00" + issue.Kind
			if seen[key] {
				continue
			}
			seen[key] = true
			report.Issues = append(report.Issues, issue)
		}

		for _, field := range auditedFields {
			if recordHasField(rec, field) {
				fieldCounts[field]++
			}
		}
	}

	report.Issues = append(report.Issues, duplicateIssues(records, seen)...)

	n := float64(report.Overall.Total)
	report.Overall.CompletenessRate = sumCompleteness / n
	report.Overall.AccuracyRate = sumAccuracy / n
	report.Overall.ConsistencyRate = sumConsistency / n
	report.Overall.TimelinessRate = sumTimeliness / n
	report.Overall.OverallQualityScore = 0.3*report.Overall.CompletenessRate +
		0.25*report.Overall.AccuracyRate +
		0.25*report.Overall.ConsistencyRate +
		0.2*report.Overall.TimelinessRate

	for _, field := range auditedFields {
		report.FieldFillRates[field] = float64(fieldCounts[field]) / n
	}

	report.Recommendations = recommendations(report)
	report.Priorities = priorities(report)
	report.Trend = a.trend(records, now)
	return report
}

// timeliness decays linearly to 0 over a year since the last update.
func timeliness(rec *store.BillRecord, now time.Time) float64 {
	if rec.LastUpdated.IsZero() {
		return 0
	}
	age := now.Sub(rec.LastUpdated)
	if age < 0 {
		age = 0
	}
	t := 1 - age.Hours()/(365*24)
	if t < 0 {
		return 0
	}
	return t
}

func recordHasField(rec *store.BillRecord, field string) bool {
	switch field {
	case "outline":
		return rec.Outline != ""
	case "background":
		return rec.Background != ""
	case "expected_effects":
		return rec.ExpectedEffects != ""
	case "key_provisions":
		return len(rec.KeyProvisions) > 0
	case "related_laws":
		return len(rec.RelatedLaws) > 0
	case "sponsoring_ministry":
		return rec.SponsoringMinistry != ""
	case "submitting_members":
		return len(rec.SubmittingMembers) > 0
	case "committee_assignments":
		return len(rec.CommitteeAssignments) > 0
	case "voting_results":
		return len(rec.VotingResults) > 0
	case "submitted_date":
		return rec.SubmittedDate != nil
	case "implementation_date":
		return rec.ImplementationDate != nil
	}
	return false
}

// duplicateIssues flags the second and later records sharing (title,
// session, chamber).
func duplicateIssues(records []*store.BillRecord, seen map[string]bool) []validate.Issue {
	groups := make(map[string]int)
	var issues []validate.Issue
	for _, rec := range records {
		key := fmt.Sprintf("%s\x00%d\x00%s", parser.CleanText(rec.Title), rec.SessionNumber, rec.ChamberOfOrigin)
		groups[key]++
		if groups[key] < 2 {
			continue
		}
		dupKey := rec.BillID + "\x00title\x00duplicate_record"
		if seen[dupKey] {
			continue
		}
		seen[dupKey] = true
		issues = append(issues, validate.Issue{
			BillID:   rec.BillID,
			Field:    "title",
			Kind:     "duplicate_record",
			Severity: validate.SeverityWarning,
			Message:  fmt.Sprintf("duplicate of an earlier record with the same title in session %d", rec.SessionNumber),
		})
	}
	return issues
}

func recommendations(report *Report) []string {
	var out []string
	counts := make(map[string]int)
	for _, issue := range report.Issues {
		counts[issue.Kind]++
	}
	if n := counts[validate.KindMissingField]; n > 0 {
		out = append(out, fmt.Sprintf("%d records have missing required fields; schedule completion scraping", n))
	}
	if n := counts[validate.KindPoorJapanese]; n > 0 {
		out = append(out, fmt.Sprintf("%d text fields are short or non-Japanese; run text enhancement", n))
	}
	if n := counts[validate.KindInconsistent] + counts[validate.KindDateOrder]; n > 0 {
		out = append(out, fmt.Sprintf("%d consistency violations; run validate-and-fix", n))
	}
	if n := counts["duplicate_record"]; n > 0 {
		out = append(out, fmt.Sprintf("%d duplicate records; review merge thresholds", n))
	}
	if report.Overall.CompletenessRate < 0.7 {
		out = append(out, "overall completeness is low; prioritize detail-page scraping")
	}
	return out
}

// priorities orders improvement work: critical gaps first, enhanced-field
// coverage second, consistency third.
func priorities(report *Report) []string {
	var out []string
	var criticals int
	for _, issue := range report.Issues {
		if issue.Severity == validate.SeverityCritical {
			criticals++
		}
	}
	if criticals > 0 {
		out = append(out, fmt.Sprintf("resolve %d critical field gaps", criticals))
	}

	type fill struct {
		field string
		rate  float64
	}
	var weak []fill
	for field, rate := range report.FieldFillRates {
		if rate < 0.5 {
			weak = append(weak, fill{field, rate})
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		if weak[i].rate != weak[j].rate {
			return weak[i].rate < weak[j].rate
		}
		return weak[i].field < weak[j].field
	})
	for _, w := range weak {
		out = append(out, fmt.Sprintf("improve %s coverage (%.0f%%)", w.field, w.rate*100))
	}

	if report.Overall.ConsistencyRate < 0.9 {
		out = append(out, "review consistency violations")
	}
	return out
}

// trend buckets per-record quality by last-updated day over the trailing
// window and classifies the least-squares slope.
func (a *Auditor) trend(records []*store.BillRecord, now time.Time) Trend {
	window := a.TrendWindowDays
	if window <= 0 {
		window = 30
	}
	cutoff := now.AddDate(0, 0, -window)

	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[string]*bucket)
	for _, rec := range records {
		if rec.LastUpdated.Before(cutoff) {
			continue
		}
		day := rec.LastUpdated.UTC().Format("2006-01-02")
		b := buckets[day]
		if b == nil {
			b = &bucket{}
			buckets[day] = b
		}
		b.sum += rec.DataQualityScore
		b.count++
	}

	days := make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Strings(days)

	trend := Trend{Direction: TrendStable}
	for _, day := range days {
		b := buckets[day]
		trend.Daily = append(trend.Daily, DailyQuality{
			Date:    day,
			Average: b.sum / float64(b.count),
			Count:   b.count,
		})
	}
	if len(trend.Daily) < 2 {
		return trend
	}

	// Least-squares slope with x as the day index.
	n := float64(len(trend.Daily))
	var sumX, sumY, sumXY, sumXX float64
	for i, d := range trend.Daily {
		x := float64(i)
		sumX += x
		sumY += d.Average
		sumXY += x * d.Average
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom != 0 {
		trend.Slope = (n*sumXY - sumX*sumY) / denom
	}
	switch {
	case trend.Slope > trendSlopeThreshold:
		trend.Direction = TrendImproving
	case trend.Slope < -trendSlopeThreshold:
		trend.Direction = TrendDeclining
	}
	return trend
}
