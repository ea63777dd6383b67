package parser

import (
	"strings"

	"github.com/openkokkai/billtracker/store"
)

// statusTable maps chamber-site status phrases to canonical statuses.
// Order matters: longer phrases first so 継続審議 wins over 審議.
var statusTable = []struct {
	phrase string
	status store.BillStatus
}{
	{"継続審査", store.StatusContinued},
	{"継続審議", store.StatusContinued},
	{"衆議院送付", store.StatusSentToOther},
	{"参議院送付", store.StatusSentToOther},
	{"委員会可決", store.StatusCommitteePassed},
	{"本会議可決", store.StatusPassed},
	{"成立", store.StatusEnacted},
	{"公布", store.StatusEnacted},
	{"否決", store.StatusRejected},
	{"撤回", store.StatusWithdrawn},
	{"可決", store.StatusPassed},
	{"審査中", store.StatusInCommittee},
	{"審議中", store.StatusInCommittee},
	{"付託", store.StatusInCommittee},
	{"提出", store.StatusIntroduced},
	{"未了", store.StatusUnknown},
}

// MapStatus converts a raw status phrase into the canonical enum. Unknown
// phrases map to StatusUnknown; the validator flags them downstream.
func MapStatus(raw string) store.BillStatus {
	raw = CleanText(raw)
	for _, entry := range statusTable {
		if strings.Contains(raw, entry.phrase) {
			return entry.status
		}
	}
	return store.StatusUnknown
}

// StageForStatus derives the coarse stage implied by a status when the page
// carries no explicit progress detail.
func StageForStatus(status store.BillStatus) store.Stage {
	switch status {
	case store.StatusIntroduced:
		return store.StageSubmitted
	case store.StatusInCommittee:
		return store.StageCommitteeReview
	case store.StatusCommitteePassed:
		return store.StageCommitteeVote
	case store.StatusInPlenary:
		return store.StagePlenaryDebate
	case store.StatusPassed:
		return store.StagePlenaryVote
	case store.StatusSentToOther:
		return store.StageInterHouseSent
	case store.StatusEnacted:
		return store.StageEnacted
	case store.StatusRejected:
		return store.StageRejected
	case store.StatusWithdrawn:
		return store.StageWithdrawn
	case store.StatusContinued:
		return store.StageContinued
	}
	return store.StageSubmitted
}

// MapSubmitterKind classifies the 提出者 cell text.
func MapSubmitterKind(raw string) store.SubmitterKind {
	raw = CleanText(raw)
	switch {
	case strings.Contains(raw, "内閣"), strings.Contains(raw, "政府"):
		return store.SubmitterGovernment
	case raw == "":
		return store.SubmitterUnknown
	default:
		return store.SubmitterMember
	}
}

// categoryKeywords drives the keyword-based category classifier.
var categoryKeywords = []struct {
	keywords []string
	category store.BillCategory
}{
	{[]string{"予算", "補正"}, store.CategoryBudget},
	{[]string{"税", "関税", "租税"}, store.CategoryTaxation},
	{[]string{"年金", "介護", "医療", "福祉", "子ども"}, store.CategorySocialSecurity},
	{[]string{"条約", "外交", "防衛", "安全保障"}, store.CategoryForeignAffairs},
	{[]string{"産業", "経済", "金融", "中小企業", "デジタル"}, store.CategoryEconomy},
	{[]string{"教育", "学校", "大学"}, store.CategoryEducation},
	{[]string{"環境", "気候", "エネルギー"}, store.CategoryEnvironment},
	{[]string{"刑法", "刑事", "民法", "裁判"}, store.CategoryJustice},
}

// ClassifyCategory buckets a bill by title keywords.
func ClassifyCategory(title string) store.BillCategory {
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(title, kw) {
				return entry.category
			}
		}
	}
	return store.CategoryOther
}
