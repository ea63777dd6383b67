package parser

import (
	"github.com/openkokkai/billtracker/store"
)

// Core fields weigh 2, enhanced fields weigh 1; the score is the filled
// weight over the total weight, clamped to [0,1].
func QualityScore(rec *store.BillRecord) float64 {
	type field struct {
		filled bool
		weight float64
	}
	fields := []field{
		// Core
		{rec.BillID != "", 2},
		{rec.Title != "", 2},
		{rec.Status != "" && rec.Status != store.StatusUnknown, 2},
		{rec.SessionNumber > 0, 2},
		{rec.SubmitterKind != "" && rec.SubmitterKind != store.SubmitterUnknown, 2},
		// Enhanced
		{rec.Outline != "", 1},
		{rec.Background != "", 1},
		{rec.ExpectedEffects != "", 1},
		{len(rec.KeyProvisions) > 0, 1},
		{len(rec.RelatedLaws) > 0, 1},
		{rec.SponsoringMinistry != "", 1},
		{len(rec.SubmittingMembers) > 0, 1},
		{len(rec.CommitteeAssignments) > 0, 1},
		{len(rec.VotingResults) > 0, 1},
		{rec.SubmittedDate != nil, 1},
		{rec.ImplementationDate != nil, 1},
	}

	var got, total float64
	for _, f := range fields {
		total += f.weight
		if f.filled {
			got += f.weight
		}
	}
	score := got / total
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
