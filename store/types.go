package store

import (
	"time"
)

// Chamber identifies one of the two houses of the Diet.
type Chamber string

const (
	ChamberSangiin Chamber = "sangiin" // House of Councillors
	ChamberShugiin Chamber = "shugiin" // House of Representatives
)

// SourceChambers records which houses a bill record was observed in.
type SourceChambers string

const (
	SourceSangiinOnly SourceChambers = "sangiin_only"
	SourceShugiinOnly SourceChambers = "shugiin_only"
	SourceBoth        SourceChambers = "both"
)

// SubmitterKind distinguishes cabinet bills from member bills.
type SubmitterKind string

const (
	SubmitterGovernment SubmitterKind = "government"
	SubmitterMember     SubmitterKind = "member"
	SubmitterUnknown    SubmitterKind = "unknown"
)

// BillStatus is the coarse outcome-oriented status of a bill.
type BillStatus string

const (
	StatusIntroduced      BillStatus = "introduced"
	StatusInCommittee     BillStatus = "in_committee"
	StatusCommitteePassed BillStatus = "committee_passed"
	StatusInPlenary       BillStatus = "in_plenary"
	StatusPassed          BillStatus = "passed"
	StatusSentToOther     BillStatus = "sent_to_other_chamber"
	StatusEnacted         BillStatus = "enacted"
	StatusRejected        BillStatus = "rejected"
	StatusWithdrawn       BillStatus = "withdrawn"
	StatusContinued       BillStatus = "continued"
	StatusUnknown         BillStatus = "unknown"
)

// Stage is a point on the legislative process state machine. Both chambers
// share the same eight-stage progression; the remaining values are terminal
// branches plus carry-over.
type Stage string

const (
	StageSubmitted         Stage = "submitted"
	StageReceived          Stage = "received"
	StageCommitteeReferred Stage = "committee_referred"
	StageCommitteeReview   Stage = "committee_review"
	StageCommitteeVote     Stage = "committee_vote"
	StagePlenaryDebate     Stage = "plenary_debate"
	StagePlenaryVote       Stage = "plenary_vote"
	StageInterHouseSent    Stage = "inter_house_sent"
	StageEnacted           Stage = "enacted"
	StageRejected          Stage = "rejected"
	StageWithdrawn         Stage = "withdrawn"
	StageExpired           Stage = "expired"
	StageContinued         Stage = "continued"
)

// Terminal reports whether the stage is a terminal branch.
func (s Stage) Terminal() bool {
	switch s {
	case StageEnacted, StageRejected, StageWithdrawn, StageExpired:
		return true
	}
	return false
}

// BillCategory is the policy-domain bucket a bill falls into.
type BillCategory string

const (
	CategoryBudget         BillCategory = "budget"
	CategoryTaxation       BillCategory = "taxation"
	CategorySocialSecurity BillCategory = "social_security"
	CategoryForeignAffairs BillCategory = "foreign_affairs"
	CategoryEconomy        BillCategory = "economy"
	CategoryEducation      BillCategory = "education"
	CategoryEnvironment    BillCategory = "environment"
	CategoryJustice        BillCategory = "justice"
	CategoryOther          BillCategory = "other"
)

// AmendmentKind classifies an amendment entry.
type AmendmentKind string

const (
	AmendmentModification AmendmentKind = "modification"
	AmendmentAddition     AmendmentKind = "addition"
	AmendmentDeletion     AmendmentKind = "deletion"
)

// Amendment is a single amendment applied to a bill during deliberation.
type Amendment struct {
	Description string        `json:"description"`
	Date        *time.Time    `json:"date,omitempty"`
	Kind        AmendmentKind `json:"kind"`
}

// BillRecord is the canonical structured record for one bill.
//
// Before merge a record is identified by (BillID, ChamberOfOrigin); after
// merge the identity is BillID alone. Records are never deleted: session
// closure marks them terminal but retains them.
type BillRecord struct {
	// Identity
	BillID          string   `json:"bill_id" db:"bill_id"`
	ChamberOfOrigin Chamber  `json:"chamber_of_origin" db:"chamber_of_origin"`
	SessionNumber   int      `json:"session_number" db:"session_number"`
	SourceURLs      []string `json:"source_urls,omitempty"`

	// Descriptive
	Title              string        `json:"title"`
	Outline            string        `json:"outline,omitempty"`
	Background         string        `json:"background,omitempty"`
	ExpectedEffects    string        `json:"expected_effects,omitempty"`
	KeyProvisions      []string      `json:"key_provisions,omitempty"`
	RelatedLaws        []string      `json:"related_laws,omitempty"`
	Category           BillCategory  `json:"category,omitempty"`
	SubmitterKind      SubmitterKind `json:"submitter_kind"`
	SponsoringMinistry string        `json:"sponsoring_ministry,omitempty"`
	SubmittingMembers  []string      `json:"submitting_members,omitempty"`
	SupportingMembers  []string      `json:"supporting_members,omitempty"`

	// Lifecycle dates, monotonic in this order.
	SubmittedDate         *time.Time `json:"submitted_date,omitempty"`
	CommitteeReferralDate *time.Time `json:"committee_referral_date,omitempty"`
	CommitteeReportDate   *time.Time `json:"committee_report_date,omitempty"`
	FinalVoteDate         *time.Time `json:"final_vote_date,omitempty"`
	PromulgatedDate       *time.Time `json:"promulgated_date,omitempty"`
	ImplementationDate    *time.Time `json:"implementation_date,omitempty"`

	// Process
	Status               BillStatus        `json:"status"`
	Stage                Stage             `json:"stage"`
	CommitteeAssignments map[string]string `json:"committee_assignments,omitempty"` // chamber -> committee name
	VotingResults        map[string]string `json:"voting_results,omitempty"`
	Amendments           []Amendment       `json:"amendments,omitempty"`

	// Provenance
	SourceChambers   SourceChambers `json:"source_chambers,omitempty"`
	LastUpdated      time.Time      `json:"last_updated"`
	DataQualityScore float64        `json:"data_quality_score"`
}

// LifecycleDates returns the date fields in canonical order, paired with
// their field names. Used by the validator's monotonicity check and by the
// progress tracker.
func (b *BillRecord) LifecycleDates() []struct {
	Name string
	Date *time.Time
} {
	return []struct {
		Name string
		Date *time.Time
	}{
		{"submitted_date", b.SubmittedDate},
		{"committee_referral_date", b.CommitteeReferralDate},
		{"committee_report_date", b.CommitteeReportDate},
		{"final_vote_date", b.FinalVoteDate},
		{"promulgated_date", b.PromulgatedDate},
		{"implementation_date", b.ImplementationDate},
	}
}

// Member is a Diet member referenced by bills and voting sessions.
type Member struct {
	MemberID     string    `json:"member_id" db:"member_id"`
	Name         string    `json:"name" db:"name"`
	NameKana     string    `json:"name_kana,omitempty" db:"name_kana"`
	House        Chamber   `json:"house" db:"house"`
	Party        string    `json:"party,omitempty" db:"party"`
	Constituency string    `json:"constituency,omitempty" db:"constituency"`
	Active       bool      `json:"active" db:"active"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HistoryEvent is an audit entry appended when a pipeline component mutates
// a bill (merge, completion, validation rewrite).
type HistoryEvent struct {
	EventID            string    `json:"event_id"`
	BillID             string    `json:"bill_id"`
	Event              string    `json:"event"` // data_merge, data_completion, quality_recompute
	Strategy           string    `json:"strategy,omitempty"`
	CompletedFields    []string  `json:"completed_fields,omitempty"`
	ProcessingTimeMS   int64     `json:"processing_time_ms"`
	QualityImprovement float64   `json:"quality_improvement"`
	RecordedAt         time.Time `json:"recorded_at"`
}
