package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/store"
)

// SangiinParser parses the House of Councillors bill pages. The sangiin
// site lists bills in tables keyed by 件名/提出番号 and publishes detail
// pages with 趣旨-style section headers.
type SangiinParser struct {
	// BaseURL prefixes relative detail links found in index pages.
	BaseURL string
}

func NewSangiinParser(baseURL string) *SangiinParser {
	if baseURL == "" {
		baseURL = "https://www.sangiin.go.jp"
	}
	return &SangiinParser{BaseURL: baseURL}
}

func (p *SangiinParser) Chamber() store.Chamber { return store.ChamberSangiin }

var sangiinHeaderTerms = []string{"件名", "議案件名", "提出番号", "提出者", "審議状況", "状況"}

// ParseIndex extracts bill seeds from a sangiin index page.
func (p *SangiinParser) ParseIndex(html []byte) ([]BillSeed, error) {
	doc, err := newDocument(html)
	if err != nil {
		observability.ParseErrors.WithLabelValues(string(store.ChamberSangiin)).Inc()
		return nil, fmt.Errorf("sangiin index: %w", err)
	}

	session := extractSession(doc)
	tables := findBillTables(doc, sangiinHeaderTerms)
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
			if isHeaderOrEmptyRow(first, sangiinHeaderTerms) {
				return
			}

			number := first
			titleCell := cells.Eq(1)
			title := CleanText(titleCell.Text())
			if title == "" {
				return
			}

			seed := BillSeed{
				BillID: fmt.Sprintf("S-%d-%s", session, number),
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

	observability.BillsParsed.WithLabelValues(string(store.ChamberSangiin)).Add(float64(len(seeds)))
	return seeds, nil
}

func (p *SangiinParser) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return p.BaseURL + "/" + strings.TrimPrefix(href, "/")
}

// Section keyword sets for the sangiin detail layout.
var (
	sangiinOutlineKeys     = []string{"趣旨", "提案理由", "概要"}
	sangiinBackgroundKeys  = []string{"背景", "経緯", "提出の経緯"}
	sangiinEffectsKeys     = []string{"期待される効果", "効果", "影響"}
	sangiinProvisionsKeys  = []string{"主な内容", "法律案の概要", "骨子", "要点"}
	sangiinImplementKeys   = []string{"施行期日", "施行日"}
	sangiinSubmittersKeys  = []string{"発議者", "提出者"}
	sangiinSupportersKeys  = []string{"賛成者"}
	sangiinMinistryKeys    = []string{"所管", "主管", "所管省庁"}
	sangiinCommitteeKeys   = []string{"付託委員会", "委員会付託", "付託"}
	sangiinVotingKeys      = []string{"採決", "表決", "投票結果"}
	sangiinAmendmentKeys   = []string{"修正", "修正案"}
)

// ParseDetail populates the enhanced fields from a sangiin detail page.
func (p *SangiinParser) ParseDetail(html []byte) (*store.BillRecord, error) {
	doc, err := newDocument(html)
	if err != nil {
		observability.ParseErrors.WithLabelValues(string(store.ChamberSangiin)).Inc()
		return nil, fmt.Errorf("sangiin detail: %w", err)
	}

	rec := &store.BillRecord{
		ChamberOfOrigin: store.ChamberSangiin,
		SessionNumber:   extractSession(doc),
		SourceChambers:  store.SourceSangiinOnly,
		LastUpdated:     time.Now(),
	}

	rec.Title = CleanText(doc.Find("h1, h2, .title").First().Text())
	rec.Outline = extractSection(doc, sangiinOutlineKeys)
	rec.Background = extractSection(doc, sangiinBackgroundKeys)
	rec.ExpectedEffects = extractSection(doc, sangiinEffectsKeys)

	if provisions := extractSection(doc, sangiinProvisionsKeys); provisions != "" {
		rec.KeyProvisions = splitEnumeration(provisions)
	}

	fullText := CleanText(doc.Text())
	rec.RelatedLaws = extractLaws(fullText)
	rec.Category = ClassifyCategory(rec.Title)

	if impl := extractSection(doc, sangiinImplementKeys); impl != "" {
		rec.ImplementationDate = ParseJapaneseDate(impl)
	}
	if submitters := extractSection(doc, sangiinSubmittersKeys); submitters != "" {
		rec.SubmittingMembers = splitNames(submitters)
		rec.SubmitterKind = MapSubmitterKind(submitters)
	}
	if supporters := extractSection(doc, sangiinSupportersKeys); supporters != "" {
		rec.SupportingMembers = splitNames(supporters)
	}
	if ministrySection := extractSection(doc, sangiinMinistryKeys); ministrySection != "" {
		rec.SponsoringMinistry = extractMinistry(ministrySection)
	}
	if rec.SponsoringMinistry == "" && rec.SubmitterKind == store.SubmitterGovernment {
		rec.SponsoringMinistry = extractMinistry(fullText)
	}
	if committeeSection := extractSection(doc, sangiinCommitteeKeys); committeeSection != "" {
		if committee := extractCommittee(committeeSection); committee != "" {
			rec.CommitteeAssignments = map[string]string{string(store.ChamberSangiin): committee}
		}
	}
	if voting := extractSection(doc, sangiinVotingKeys); voting != "" {
		rec.VotingResults = extractVotingResults(voting)
	}
	if amendment := extractSection(doc, sangiinAmendmentKeys); amendment != "" {
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

// splitNames splits a member enumeration on Japanese list separators.
func splitNames(s string) []string {
	var names []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '、' || r == ',' || r == '・' || r == '\n'
	}) {
		part = strings.TrimSpace(part)
		// Names are 2-10 runes; longer fragments are prose, not names.
		if n := len([]rune(part)); n >= 2 && n <= 10 {
			names = append(names, part)
		}
	}
	return names
}
