// Package validate checks bill records for completeness, format, and
// internal consistency.
package validate

import (
	"fmt"
	"regexp"

	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/parser"
	"github.com/openkokkai/billtracker/store"
)

// Level selects how much of a record is required.
type Level string

const (
	Basic         Level = "basic"
	Standard      Level = "standard"
	Comprehensive Level = "comprehensive"
)

// Severity of a single issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue kinds. The completion processor plans repair tasks off these.
const (
	KindMissingField   = "missing_field"
	KindInvalidFormat  = "invalid_format"
	KindInvalidEnum    = "invalid_enum"
	KindPoorJapanese   = "poor_japanese_text"
	KindInconsistent   = "inconsistent_data"
	KindDateOrder      = "date_order_violation"
)

// Issue is one finding against one record field.
type Issue struct {
	BillID   string   `json:"bill_id"`
	Field    string   `json:"field"`
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Result is the outcome of validating one record.
type Result struct {
	IsValid           bool    `json:"is_valid"`
	QualityScore      float64 `json:"quality_score"`
	CompletenessScore float64 `json:"completeness_score"`
	ConsistencyScore  float64 `json:"consistency_score"`
	FormatScore       float64 `json:"format_score"`
	Issues            []Issue `json:"issues"`
}

var severityWeights = map[Severity]float64{
	SeverityCritical: 0.2,
	SeverityWarning:  0.1,
	SeverityInfo:     0.05,
}

var billIDPattern = regexp.MustCompile(`^[SH]-\d{1,3}-\d+$`)

var requiredByLevel = map[Level][]string{
	Basic:         {"bill_id", "title", "status"},
	Standard:      {"bill_id", "title", "status", "session_number", "chamber_of_origin", "submitter_kind"},
	Comprehensive: {"bill_id", "title", "status", "session_number", "chamber_of_origin", "submitter_kind", "outline", "stage"},
}

var optionalFields = []string{
	"outline", "background", "expected_effects", "key_provisions",
	"related_laws", "sponsoring_ministry", "submitting_members",
	"committee_assignments", "voting_results", "submitted_date",
	"implementation_date", "category", "stage",
}

// stagesForStatus is the status/stage consistency table. A status not listed
// here accepts any stage.
var stagesForStatus = map[store.BillStatus][]store.Stage{
	store.StatusIntroduced:      {store.StageSubmitted, store.StageReceived},
	store.StatusInCommittee:     {store.StageCommitteeReferred, store.StageCommitteeReview, store.StageCommitteeVote},
	store.StatusCommitteePassed: {store.StageCommitteeVote, store.StagePlenaryDebate},
	store.StatusInPlenary:       {store.StagePlenaryDebate, store.StagePlenaryVote},
	store.StatusPassed:          {store.StagePlenaryVote, store.StageInterHouseSent},
	store.StatusSentToOther:     {store.StageInterHouseSent, store.StageReceived},
	store.StatusEnacted:         {store.StageEnacted},
	store.StatusRejected:        {store.StageRejected},
	store.StatusWithdrawn:       {store.StageWithdrawn},
	store.StatusContinued:       {store.StageContinued},
}

// Validate checks the record at the given level and computes the four
// scores. An empty level means Standard.
func Validate(rec *store.BillRecord, level Level) Result {
	if level == "" {
		level = Standard
	}
	var issues []Issue
	add := func(field, kind string, severity Severity, format string, args ...any) {
		issues = append(issues, Issue{
			BillID:   rec.BillID,
			Field:    field,
			Kind:     kind,
			Severity: severity,
			Message:  fmt.Sprintf(format, args...),
		})
		observability.ValidationIssues.WithLabelValues(string(severity)).Inc()
	}

	// Required fields.
	for _, field := range requiredByLevel[level] {
		if !fieldPresent(rec, field) {
			add(field, KindMissingField, SeverityCritical, "required field %s is missing or empty", field)
		}
	}

	// Unknown enum placeholders on core fields.
	if rec.Status == store.StatusUnknown {
		add("status", KindInvalidEnum, SeverityWarning, "status is unknown")
	}
	if rec.SubmitterKind == store.SubmitterUnknown {
		add("submitter_kind", KindInvalidEnum, SeverityWarning, "submitter kind is unknown")
	}

	// Field formats.
	var formatIssues int
	if !billIDPattern.MatchString(rec.BillID) {
		add("bill_id", KindInvalidFormat, SeverityWarning, "bill id %q does not match the S/H-session-number form", rec.BillID)
		formatIssues++
	}
	if rec.SessionNumber < 0 || rec.SessionNumber > 999 {
		add("session_number", KindInvalidFormat, SeverityWarning, "session number %d out of range", rec.SessionNumber)
		formatIssues++
	}
	if rec.DataQualityScore < 0 || rec.DataQualityScore > 1 {
		add("data_quality_score", KindInvalidFormat, SeverityWarning, "quality score %f outside [0,1]", rec.DataQualityScore)
		formatIssues++
	}

	// Enum membership on non-empty values.
	if rec.ChamberOfOrigin != "" && rec.ChamberOfOrigin != store.ChamberSangiin && rec.ChamberOfOrigin != store.ChamberShugiin {
		add("chamber_of_origin", KindInvalidEnum, SeverityWarning, "unknown chamber %q", rec.ChamberOfOrigin)
		formatIssues++
	}
	if rec.Stage != "" && !validStage(rec.Stage) {
		add("stage", KindInvalidEnum, SeverityWarning, "unknown stage %q", rec.Stage)
		formatIssues++
	}
	if rec.Status != "" && !validStatus(rec.Status) {
		add("status", KindInvalidEnum, SeverityWarning, "unknown status %q", rec.Status)
		formatIssues++
	}

	// Japanese text checks on non-empty text fields.
	for field, text := range map[string]string{
		"title":            rec.Title,
		"outline":          rec.Outline,
		"background":       rec.Background,
		"expected_effects": rec.ExpectedEffects,
	} {
		if text == "" {
			continue
		}
		if len([]rune(text)) < 10 || !parser.ContainsJapanese(text) {
			add(field, KindPoorJapanese, SeverityInfo, "%s is short or not Japanese text", field)
		}
	}

	// Logical relationships.
	if rec.Status != "" && rec.Stage != "" {
		if allowed, ok := stagesForStatus[rec.Status]; ok && !containsStage(allowed, rec.Stage) {
			add("stage", KindInconsistent, SeverityWarning, "stage %q inconsistent with status %q", rec.Stage, rec.Status)
		}
	}
	if rec.SubmitterKind == store.SubmitterGovernment && len(rec.SubmittingMembers) > 0 {
		add("submitter_kind", KindInconsistent, SeverityWarning, "government bill lists submitting members")
	}
	dates := rec.LifecycleDates()
	for i := 0; i < len(dates)-1; i++ {
		if dates[i].Date == nil || dates[i+1].Date == nil {
			continue
		}
		if dates[i].Date.After(*dates[i+1].Date) {
			add(dates[i+1].Name, KindDateOrder, SeverityWarning, "%s precedes %s", dates[i+1].Name, dates[i].Name)
		}
	}

	return score(rec, level, issues, formatIssues)
}

func score(rec *store.BillRecord, level Level, issues []Issue, formatIssues int) Result {
	required := requiredByLevel[level]
	var requiredFilled int
	for _, f := range required {
		if fieldPresent(rec, f) {
			requiredFilled++
		}
	}
	var optionalFilled int
	for _, f := range optionalFields {
		if fieldPresent(rec, f) {
			optionalFilled++
		}
	}
	completeness := 0.8*(float64(requiredFilled)/float64(len(required))) +
		0.2*(float64(optionalFilled)/float64(len(optionalFields)))

	consistency := 1.0
	critical := false
	for _, issue := range issues {
		consistency -= severityWeights[issue.Severity]
		if issue.Severity == SeverityCritical {
			critical = true
		}
	}
	if consistency < 0 {
		consistency = 0
	}

	format := 1 - 0.1*float64(formatIssues)
	if format < 0 {
		format = 0
	}

	quality := 0.4*completeness + 0.3*consistency + 0.3*format
	return Result{
		IsValid:           !critical,
		QualityScore:      quality,
		CompletenessScore: completeness,
		ConsistencyScore:  consistency,
		FormatScore:       format,
		Issues:            issues,
	}
}

// fieldPresent reports whether the named field carries a usable value.
// Unknown enum placeholders count as absent: a status of "unknown" satisfies
// nothing.
func fieldPresent(rec *store.BillRecord, field string) bool {
	switch field {
	case "bill_id":
		return rec.BillID != ""
	case "title":
		return rec.Title != ""
	case "status":
		return rec.Status != "" && rec.Status != store.StatusUnknown
	case "session_number":
		return rec.SessionNumber > 0
	case "chamber_of_origin":
		return rec.ChamberOfOrigin != ""
	case "submitter_kind":
		return rec.SubmitterKind != "" && rec.SubmitterKind != store.SubmitterUnknown
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
	case "category":
		return rec.Category != "" && rec.Category != store.CategoryOther
	case "stage":
		return rec.Stage != ""
	}
	return false
}

func validStage(s store.Stage) bool {
	switch s {
	case store.StageSubmitted, store.StageReceived, store.StageCommitteeReferred,
		store.StageCommitteeReview, store.StageCommitteeVote, store.StagePlenaryDebate,
		store.StagePlenaryVote, store.StageInterHouseSent, store.StageEnacted,
		store.StageRejected, store.StageWithdrawn, store.StageExpired, store.StageContinued:
		return true
	}
	return false
}

func validStatus(s store.BillStatus) bool {
	switch s {
	case store.StatusIntroduced, store.StatusInCommittee, store.StatusCommitteePassed,
		store.StatusInPlenary, store.StatusPassed, store.StatusSentToOther,
		store.StatusEnacted, store.StatusRejected, store.StatusWithdrawn,
		store.StatusContinued, store.StatusUnknown:
		return true
	}
	return false
}

func containsStage(stages []store.Stage, s store.Stage) bool {
	for _, v := range stages {
		if v == s {
			return true
		}
	}
	return false
}
