package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/store"
)

// ShugiinParser parses the House of Representatives bill pages. The shugiin
// site uses 議案件名/経過状況 table headers and a different detail-page
// layout from the sangiin site, which is why each chamber keeps its own
// parser behind the shared contract.
type ShugiinParser struct {
	BaseURL string
}

func NewShugiinParser(baseURL string) *ShugiinParser {
	if baseURL == "" {
		baseURL = "https://www.shugiin.go.jp"
	}
	return &ShugiinParser{BaseURL: baseURL}
}

func (p *ShugiinParser) Chamber() store.Chamber { return store.ChamberShugiin }

var shugiinHeaderTerms = []string{"議案件名", "議案番号", "提出番号", "議案提出者", "提出者", "経過状況", "審議状況"}

// ParseIndex extracts bill seeds from a shugiin index page. The shugiin
// table puts the number first and carries the progress column under 経過状況.
func (p *ShugiinParser) ParseIndex(html []byte) ([]BillSeed, error) {
	doc, err := newDocument(html)
	if err != nil {
		observability.ParseErrors.WithLabelValues(string(store.ChamberShugiin)).Inc()
		return nil, fmt.Errorf("shugiin index: %w", err)
	}

	session := extractSession(doc)
	tables := findBillTables(doc, shugiinHeaderTerms)
	if len(tables) == 0 {
		return nil, ErrNoBillTable
	}

	var seeds []BillSeed
	for _, table := range tables {
		table.Find("tr").Each(func(i int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 3 {
				return
			}
			first := CleanText(cells.Eq(0).Text())
			if isHeaderOrEmptyRow(first, shugiinHeaderTerms) {
				return
			}

			titleCell := cells.Eq(1)
			title := CleanText(titleCell.Text())
			if title == "" {
				return
			}

			seed := BillSeed{
				BillID: fmt.Sprintf("H-%d-%s", session, first),
				Title:  title,
			}
			if href, ok := titleCell.Find("a").Attr("href"); ok {
				seed.DetailURL = p.absoluteURL(href)
			}
			if cells.Length() > 2 {
				seed.SubmitterKind = MapSubmitterKind(cells.Eq(2).Text())
			}
			if cells.Length() > 3 {
				seed.Status = MapStatus(cells.Eq(3).Text())
			} else {
				seed.Status = store.StatusUnknown
			}
			seeds = append(seeds, seed)
		})
	}

	observability.BillsParsed.WithLabelValues(string(store.ChamberShugiin)).Add(float64(len(seeds)))
	return seeds, nil
}

func (p *ShugiinParser) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return p.BaseURL + "/" + strings.TrimPrefix(href, "/")
}

// Section keyword sets for the shugiin detail layout.
var (
	shugiinOutlineKeys    = []string{"要旨", "概要", "提案理由"}
	shugiinBackgroundKeys = []string{"提出の背景", "背景", "経緯"}
	shugiinEffectsKeys    = []string{"効果", "影響", "期待される効果"}
	shugiinProvisionsKeys = []string{"本案の概要", "主な内容", "骨子"}
	shugiinImplementKeys  = []string{"施行期日", "施行"}
	shugiinSubmittersKeys = []string{"議案提出者", "提出者"}
	shugiinSupportersKeys = []string{"賛成者", "賛成議員"}
	shugiinMinistryKeys   = []string{"所管省庁", "所管"}
	shugiinCommitteeKeys  = []string{"付託委員会", "審査委員会", "付託"}
	shugiinVotingKeys     = []string{"採決結果", "採決", "表決"}
	shugiinAmendmentKeys  = []string{"修正案", "修正"}
)

// ParseDetail populates the enhanced fields from a shugiin detail page.
func (p *ShugiinParser) ParseDetail(html []byte) (*store.BillRecord, error) {
	doc, err := newDocument(html)
	if err != nil {
		observability.ParseErrors.WithLabelValues(string(store.ChamberShugiin)).Inc()
		return nil, fmt.Errorf("shugiin detail: %w", err)
	}

	rec := &store.BillRecord{
		ChamberOfOrigin: store.ChamberShugiin,
		SessionNumber:   extractSession(doc),
		SourceChambers:  store.SourceShugiinOnly,
		LastUpdated:     time.Now(),
	}

	rec.Title = CleanText(doc.Find("h1, h2, .title").First().Text())
	rec.Outline = extractSection(doc, shugiinOutlineKeys)
	rec.Background = extractSection(doc, shugiinBackgroundKeys)
	rec.ExpectedEffects = extractSection(doc, shugiinEffectsKeys)

	if provisions := extractSection(doc, shugiinProvisionsKeys); provisions != "" {
		rec.KeyProvisions = splitEnumeration(provisions)
	}

	fullText := CleanText(doc.Text())
	rec.RelatedLaws = extractLaws(fullText)
	rec.Category = ClassifyCategory(rec.Title)

	if impl := extractSection(doc, shugiinImplementKeys); impl != "" {
		rec.ImplementationDate = ParseJapaneseDate(impl)
	}
	if submitters := extractSection(doc, shugiinSubmittersKeys); submitters != "" {
		rec.SubmittingMembers = splitNames(submitters)
		rec.SubmitterKind = MapSubmitterKind(submitters)
	}
	if supporters := extractSection(doc, shugiinSupportersKeys); supporters != "" {
		rec.SupportingMembers = splitNames(supporters)
	}
	if ministrySection := extractSection(doc, shugiinMinistryKeys); ministrySection != "" {
		rec.SponsoringMinistry = extractMinistry(ministrySection)
	}
	if rec.SponsoringMinistry == "" && rec.SubmitterKind == store.SubmitterGovernment {
		rec.SponsoringMinistry = extractMinistry(fullText)
	}
	if committeeSection := extractSection(doc, shugiinCommitteeKeys); committeeSection != "" {
		if committee := extractCommittee(committeeSection); committee != "" {
			rec.CommitteeAssignments = map[string]string{string(store.ChamberShugiin): committee}
		}
	}
	if voting := extractSection(doc, shugiinVotingKeys); voting != "" {
		rec.VotingResults = extractVotingResults(voting)
	}
	if amendment := extractSection(doc, shugiinAmendmentKeys); amendment != "" {
		rec.Amendments = []store.Amendment{{
			Description: amendment,
			Date:        ParseJapaneseDate(amendment),
			Kind:        store.AmendmentModification,
		}}
	}

	rec.SubmittedDate = ParseJapaneseDate(extractSection(doc, []string{"提出日", "提出年月日"}))
	rec.DataQualityScore = QualityScore(rec)
	return rec, nil
}
