package parser

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/openkokkai/billtracker/store"
)

// ErrNoBillTable is returned when an index page contains no recognizable
// bill listing table. Callers treat it as an empty page, not a crash.
var ErrNoBillTable = errors.New("no bill table found in document")

// BillSeed is the minimal record extracted from an index page row. The
// detail page fills in the rest.
type BillSeed struct {
	BillID        string              `json:"bill_id"`
	Title         string              `json:"title"`
	Status        store.BillStatus    `json:"status"`
	SubmitterKind store.SubmitterKind `json:"submitter_kind"`
	DetailURL     string              `json:"detail_url"`
}

// ChamberParser is the shared contract of the two chamber parsers. Each
// chamber has its own implementation because URL layouts and table schemas
// differ between the sites.
type ChamberParser interface {
	Chamber() store.Chamber
	ParseIndex(html []byte) ([]BillSeed, error)
	ParseDetail(html []byte) (*store.BillRecord, error)
}

var sessionPattern = regexp.MustCompile(`第(\d{1,3})回国会`)

// extractSession finds the Diet session number in the page text.
func extractSession(doc *goquery.Document) int {
	if m := sessionPattern.FindStringSubmatch(doc.Text()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func newDocument(html []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(html))
}

// findBillTables selects tables whose header row contains any of the
// chamber's header terms.
func findBillTables(doc *goquery.Document, headerTerms []string) []*goquery.Selection {
	var tables []*goquery.Selection
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		headerRow := table.Find("tr").First()
		headerText := CleanText(headerRow.Text())
		if matchesAny(headerText, headerTerms) {
			tables = append(tables, table)
		}
	})
	return tables
}

// isHeaderOrEmptyRow filters rows whose first cell repeats a header term or
// is empty.
func isHeaderOrEmptyRow(firstCell string, headerTerms []string) bool {
	if firstCell == "" {
		return true
	}
	for _, term := range headerTerms {
		if firstCell == term {
			return true
		}
	}
	return false
}
