// Package merge reconciles the two chambers' views of the same bill into a
// single record.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/parser"
	"github.com/openkokkai/billtracker/store"
)

// Strategy selects how field-level disagreements are resolved.
type Strategy string

const (
	ChamberAPriority Strategy = "chamber_A_priority"
	ChamberBPriority Strategy = "chamber_B_priority"
	MostComplete     Strategy = "most_complete"
	LatestUpdate     Strategy = "latest_update"
	MergeFields      Strategy = "merge_fields"
)

// SimilarityThreshold is the default minimum match score between an A-side
// and a B-side record.
const SimilarityThreshold = 0.7

// Conflict records one non-trivial field decision made during a merge.
type Conflict struct {
	Field      string  `json:"field"`
	AValue     any     `json:"a_value"`
	BValue     any     `json:"b_value"`
	Resolution string  `json:"resolution"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome for one input record or matched pair.
type Result struct {
	Record       *store.BillRecord `json:"record"`
	Matched      bool              `json:"matched"`
	Similarity   float64           `json:"similarity,omitempty"`
	Conflicts    []Conflict        `json:"conflicts,omitempty"`
	MergeQuality float64           `json:"merge_quality"`
}

// Engine merges record sets with a configurable strategy and threshold.
type Engine struct {
	Strategy  Strategy
	Threshold float64
}

func NewEngine(strategy Strategy) *Engine {
	if strategy == "" {
		strategy = MostComplete
	}
	return &Engine{Strategy: strategy, Threshold: SimilarityThreshold}
}

// Merge matches recordsA against recordsB and produces one Result per
// matched pair plus one per unmatched record. Each B-record matches at most
// one A-record; ties go to the earlier A-record.
func (e *Engine) Merge(recordsA, recordsB []*store.BillRecord) []Result {
	usedB := make([]bool, len(recordsB))
	var results []Result

	for _, a := range recordsA {
		bestIdx := -1
		bestScore := 0.0
		for j, b := range recordsB {
			if usedB[j] {
				continue
			}
			score := Similarity(a, b)
			if score > bestScore {
				bestScore = score
				bestIdx = j
			}
		}
		if bestIdx >= 0 && bestScore >= e.Threshold {
			usedB[bestIdx] = true
			results = append(results, e.mergePair(a, recordsB[bestIdx], bestScore))
			continue
		}
		passthrough := *a
		passthrough.SourceChambers = sourceFor(a.ChamberOfOrigin)
		results = append(results, Result{
			Record:       &passthrough,
			MergeQuality: parser.QualityScore(&passthrough),
		})
	}

	for j, b := range recordsB {
		if usedB[j] {
			continue
		}
		passthrough := *b
		passthrough.SourceChambers = sourceFor(b.ChamberOfOrigin)
		results = append(results, Result{
			Record:       &passthrough,
			MergeQuality: parser.QualityScore(&passthrough),
		})
	}
	return results
}

func sourceFor(c store.Chamber) store.SourceChambers {
	if c == store.ChamberShugiin {
		return store.SourceShugiinOnly
	}
	return store.SourceSangiinOnly
}

// Similarity scores two records as the weighted mean of title similarity,
// session equality, trailing bill-number equality, and submitter kind.
func Similarity(a, b *store.BillRecord) float64 {
	score := 0.4 * titleSimilarity(a.Title, b.Title)
	if a.SessionNumber == b.SessionNumber && a.SessionNumber != 0 {
		score += 0.3
	}
	if tailA, tailB := idTail(a.BillID), idTail(b.BillID); tailA != "" && tailA == tailB {
		score += 0.2
	}
	if a.SubmitterKind == b.SubmitterKind && a.SubmitterKind != "" {
		score += 0.1
	}
	return score
}

func idTail(id string) string {
	if i := strings.LastIndex(id, "-"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// titleSimilarity is the character-set Jaccard of the cleaned titles, with
// an exact match short-circuit.
func titleSimilarity(a, b string) float64 {
	a, b = parser.CleanText(a), parser.CleanText(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	setA := make(map[rune]bool)
	for _, r := range a {
		setA[r] = true
	}
	setB := make(map[rune]bool)
	for _, r := range b {
		setB[r] = true
	}
	var inter int
	for r := range setA {
		if setB[r] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// mergePair builds the merged record field by field and scores it.
func (e *Engine) mergePair(a, b *store.BillRecord, similarity float64) Result {
	merged := *a
	var conflicts []Conflict

	decide := func(field string, av, bv any, set func(any)) {
		chosen, resolution, confidence, conflict := e.resolve(field, av, bv, a, b)
		set(chosen)
		if conflict {
			conflicts = append(conflicts, Conflict{
				Field:      field,
				AValue:     av,
				BValue:     bv,
				Resolution: resolution,
				Confidence: confidence,
			})
			observability.MergeConflicts.Inc()
		}
	}

	decide("title", a.Title, b.Title, func(v any) { merged.Title = v.(string) })
	decide("outline", a.Outline, b.Outline, func(v any) { merged.Outline = v.(string) })
	decide("background", a.Background, b.Background, func(v any) { merged.Background = v.(string) })
	decide("expected_effects", a.ExpectedEffects, b.ExpectedEffects, func(v any) { merged.ExpectedEffects = v.(string) })
	decide("sponsoring_ministry", a.SponsoringMinistry, b.SponsoringMinistry, func(v any) { merged.SponsoringMinistry = v.(string) })
	decide("key_provisions", a.KeyProvisions, b.KeyProvisions, func(v any) { merged.KeyProvisions = v.([]string) })
	decide("related_laws", a.RelatedLaws, b.RelatedLaws, func(v any) { merged.RelatedLaws = v.([]string) })
	decide("submitting_members", a.SubmittingMembers, b.SubmittingMembers, func(v any) { merged.SubmittingMembers = v.([]string) })
	decide("supporting_members", a.SupportingMembers, b.SupportingMembers, func(v any) { merged.SupportingMembers = v.([]string) })
	decide("committee_assignments", a.CommitteeAssignments, b.CommitteeAssignments, func(v any) { merged.CommitteeAssignments = v.(map[string]string) })
	decide("voting_results", a.VotingResults, b.VotingResults, func(v any) { merged.VotingResults = v.(map[string]string) })
	decide("amendments", a.Amendments, b.Amendments, func(v any) { merged.Amendments = v.([]store.Amendment) })

	// Enum fields go through the same resolution; "unknown" counts as empty
	// so a placeholder never beats a real value.
	decide("status", enumValue(string(a.Status)), enumValue(string(b.Status)), func(v any) {
		if s, _ := v.(string); s != "" {
			merged.Status = store.BillStatus(s)
		}
	})
	decide("stage", string(a.Stage), string(b.Stage), func(v any) {
		if s, _ := v.(string); s != "" {
			merged.Stage = store.Stage(s)
		}
	})
	decide("category", string(a.Category), string(b.Category), func(v any) {
		if s, _ := v.(string); s != "" {
			merged.Category = store.BillCategory(s)
		}
	})
	decide("submitter_kind", enumValue(string(a.SubmitterKind)), enumValue(string(b.SubmitterKind)), func(v any) {
		if s, _ := v.(string); s != "" {
			merged.SubmitterKind = store.SubmitterKind(s)
		}
	})

	// Lifecycle dates: a missing side never wins.
	if merged.SubmittedDate == nil {
		merged.SubmittedDate = b.SubmittedDate
	}
	if merged.CommitteeReferralDate == nil {
		merged.CommitteeReferralDate = b.CommitteeReferralDate
	}
	if merged.CommitteeReportDate == nil {
		merged.CommitteeReportDate = b.CommitteeReportDate
	}
	if merged.FinalVoteDate == nil {
		merged.FinalVoteDate = b.FinalVoteDate
	}
	if merged.PromulgatedDate == nil {
		merged.PromulgatedDate = b.PromulgatedDate
	}
	if merged.ImplementationDate == nil {
		merged.ImplementationDate = b.ImplementationDate
	}

	merged.SourceChambers = store.SourceBoth
	merged.SourceURLs = unionStrings(a.SourceURLs, b.SourceURLs)
	if b.LastUpdated.After(merged.LastUpdated) {
		merged.LastUpdated = b.LastUpdated
	}
	merged.DataQualityScore = parser.QualityScore(&merged)

	return Result{
		Record:       &merged,
		Matched:      true,
		Similarity:   similarity,
		Conflicts:    conflicts,
		MergeQuality: mergeQuality(&merged, conflicts),
	}
}

// mergeQuality penalizes low-confidence conflict resolutions and rewards
// multi-source corroboration.
func mergeQuality(rec *store.BillRecord, conflicts []Conflict) float64 {
	score := parser.QualityScore(rec)
	for _, c := range conflicts {
		score -= 0.1 * (1 - c.Confidence)
	}
	if score < 0 {
		score = 0
	}
	if rec.SourceChambers == store.SourceBoth {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// resolve picks one side's value for a field. It reports whether the
// decision was non-trivial: both sides non-empty and different.
func (e *Engine) resolve(field string, av, bv any, a, b *store.BillRecord) (chosen any, resolution string, confidence float64, conflict bool) {
	aEmpty, bEmpty := emptyValue(av), emptyValue(bv)
	switch {
	case aEmpty && bEmpty:
		return av, "", 1, false
	case bEmpty:
		return av, "", 1, false
	case aEmpty:
		return bv, "", 1, false
	case fmt.Sprintf("%v", av) == fmt.Sprintf("%v", bv):
		return av, "", 1, false
	}

	switch e.Strategy {
	case ChamberAPriority:
		return av, "chamber_A_priority", 0.8, true
	case ChamberBPriority:
		return bv, "chamber_B_priority", 0.8, true
	case LatestUpdate:
		if b.LastUpdated.After(a.LastUpdated) {
			return bv, "latest_update", 0.7, true
		}
		return av, "latest_update", 0.7, true
	case MergeFields:
		if merged, ok := unionValue(av, bv); ok {
			return merged, "merge_fields", 0.9, true
		}
		return mostComplete(av, bv)
	default:
		return mostComplete(av, bv)
	}
}

func mostComplete(av, bv any) (any, string, float64, bool) {
	if completeness(bv) > completeness(av) {
		return bv, "b_more_complete", 0.9, true
	}
	return av, "a_more_complete", 0.9, true
}

// completeness scores a single value: strings by length/100, collections by
// size/10, scalars 1.0 when nonzero.
func completeness(v any) float64 {
	switch t := v.(type) {
	case string:
		s := float64(len([]rune(t))) / 100
		if s > 1 {
			s = 1
		}
		return s
	case []string:
		s := float64(len(t)) / 10
		if s > 1 {
			s = 1
		}
		return s
	case map[string]string:
		s := float64(len(t)) / 10
		if s > 1 {
			s = 1
		}
		return s
	case []store.Amendment:
		s := float64(len(t)) / 10
		if s > 1 {
			s = 1
		}
		return s
	case nil:
		return 0
	default:
		if emptyValue(v) {
			return 0.5
		}
		return 1
	}
}

// unionValue merges list and map values; other kinds report false.
func unionValue(av, bv any) (any, bool) {
	switch at := av.(type) {
	case []string:
		bt, _ := bv.([]string)
		return unionStrings(at, bt), true
	case map[string]string:
		bt, _ := bv.(map[string]string)
		out := make(map[string]string, len(at)+len(bt))
		for k, v := range bt {
			out[k] = v
		}
		for k, v := range at {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case map[string]string:
		return len(t) == 0
	case []store.Amendment:
		return len(t) == 0
	}
	return false
}

// enumValue maps the "unknown" placeholder to empty so resolution treats it
// as a missing value.
func enumValue(s string) string {
	if s == "unknown" {
		return ""
	}
	return s
}

// SortBySimilarity orders results highest-similarity first; passthroughs
// sort last. Used by the admin API when reporting a merge run.
func SortBySimilarity(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}
