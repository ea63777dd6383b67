// Package pdfextract parses roll-call voting PDFs published by the chamber
// sites into structured voting sessions.
package pdfextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/openkokkai/billtracker/namematch"
	"github.com/openkokkai/billtracker/observability"
)

var (
	// ErrOCRUnavailable is returned by the rasterize-and-OCR strategy when no
	// OCR engine is wired in. Callers fall through to the next strategy.
	ErrOCRUnavailable = errors.New("pdf extraction unavailable: no OCR engine configured")

	// ErrSessionRejected means every strategy either failed or produced a
	// session that did not pass the quality gate.
	ErrSessionRejected = errors.New("voting session rejected by quality gate")
)

// Vote is one member's recorded position.
type Vote string

const (
	VoteYes     Vote = "yes"
	VoteNo      Vote = "no"
	VoteAbstain Vote = "abstain"
	VoteAbsent  Vote = "absent"
)

// VoteRecord is a single parsed roll-call line.
type VoteRecord struct {
	Name         string  `json:"name"`
	Party        string  `json:"party,omitempty"`
	Constituency string  `json:"constituency,omitempty"`
	Vote         Vote    `json:"vote"`
	Confidence   float64 `json:"confidence"`
}

// VotingSession is the result of extracting one roll-call PDF.
type VotingSession struct {
	SessionID   string       `json:"session_id"`
	Strategy    string       `json:"strategy"`
	Records     []VoteRecord `json:"records"`
	ExtractedAt time.Time    `json:"extracted_at"`
}

// Tally counts records per vote value.
func (s *VotingSession) Tally() map[Vote]int {
	out := make(map[Vote]int)
	for _, r := range s.Records {
		out[r.Vote]++
	}
	return out
}

// Config tunes the quality gate.
type Config struct {
	// MinMemberCount is the minimum record count for a session to be
	// accepted.
	MinMemberCount int
	// MinTextLength is the minimum text-layer size before the direct
	// strategy is even attempted on the parsed output.
	MinTextLength int
	// MatchThreshold is passed to the name matcher for known-member
	// reconciliation.
	MatchThreshold float64
}

func DefaultConfig() Config {
	return Config{
		MinMemberCount: 50,
		MinTextLength:  200,
		MatchThreshold: namematch.DefaultThreshold,
	}
}

const (
	strategyTextLayer = "text_layer"
	strategyOCR       = "ocr"
	strategyPattern   = "pattern"
)

// Extractor runs the strategy ladder over a PDF.
type Extractor struct {
	cfg Config

	// Strategy hooks, replaceable in tests.
	textLayer func([]byte) (string, error)
	ocr       func([]byte) (string, error)
}

func New(cfg Config) *Extractor {
	if cfg.MinMemberCount <= 0 {
		cfg.MinMemberCount = 50
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 200
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = namematch.DefaultThreshold
	}
	return &Extractor{
		cfg:       cfg,
		textLayer: extractTextLayer,
		ocr:       ocrUnavailable,
	}
}

// ExtractVotingSession runs the ladder: direct text layer, then OCR, then
// the pattern-only fallback. The first strategy whose output passes the
// quality gate wins; if none does the session is rejected. The context is
// checked between strategies so a cancelled extraction stops early.
func (e *Extractor) ExtractVotingSession(ctx context.Context, pdfBytes []byte, knownMembers []string) (*VotingSession, error) {
	type attempt struct {
		name       string
		extract    func([]byte) (string, error)
		confidence float64
	}
	attempts := []attempt{
		{strategyTextLayer, e.textLayer, 0.8},
		{strategyOCR, e.ocr, 0.7},
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := a.extract(pdfBytes)
		if err != nil {
			observability.PDFExtractions.WithLabelValues(a.name, "error").Inc()
			lastErr = err
			continue
		}
		if a.name == strategyTextLayer && len(text) < e.cfg.MinTextLength {
			observability.PDFExtractions.WithLabelValues(a.name, "rejected").Inc()
			lastErr = fmt.Errorf("text layer too short: %d chars", len(text))
			continue
		}
		records := parseRecords(text, a.confidence, knownMembers, e.cfg.MatchThreshold)
		if err := e.gate(records); err != nil {
			observability.PDFExtractions.WithLabelValues(a.name, "rejected").Inc()
			lastErr = err
			continue
		}
		observability.PDFExtractions.WithLabelValues(a.name, "ok").Inc()
		return &VotingSession{
			SessionID:   uuid.NewString(),
			Strategy:    a.name,
			Records:     records,
			ExtractedAt: time.Now(),
		}, nil
	}

	// Pattern-only extraction is a placeholder for known fixed layouts; with
	// no layouts registered it contributes nothing.
	observability.PDFExtractions.WithLabelValues(strategyPattern, "rejected").Inc()
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionRejected, lastErr)
	}
	return nil, ErrSessionRejected
}

// extractTextLayer pulls the embedded text layer.
func extractTextLayer(pdfBytes []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	return buf.String(), nil
}

func ocrUnavailable([]byte) (string, error) {
	return "", ErrOCRUnavailable
}

var voteWords = map[string]Vote{
	"賛成": VoteYes,
	"反対": VoteNo,
	"棄権": VoteAbstain,
	"欠席": VoteAbsent,
}

const (
	namePat  = `[一-龥ぁ-んァ-ヶー]{2,10}`
	votePat  = `(賛成|反対|棄権|欠席)`
	fieldPat = `[一-龥ぁ-んァ-ヶーA-Za-z0-9]{1,15}`
)

// Three record shapes of increasing flexibility. A line is matched against
// them in order and the first hit wins.
var recordPatterns = []*regexp.Regexp{
	// name party constituency vote
	regexp.MustCompile(`^(` + namePat + `)[\s　]+(` + fieldPat + `)[\s　]+(` + fieldPat + `)[\s　]+` + votePat + `$`),
	// name(party/constituency) vote
	regexp.MustCompile(`^(` + namePat + `)[\s　]*[（(](` + fieldPat + `)[/／](` + fieldPat + `)[)）][\s　]*` + votePat + `$`),
	// name ... vote
	regexp.MustCompile(`^(` + namePat + `).*?` + votePat + `$`),
}

// parseRecords scans the text line by line. Duplicate names keep their first
// occurrence. Names that reconcile exactly against knownMembers get
// confidence 1.0; fuzzy matches are canonicalized at the base confidence.
func parseRecords(text string, baseConfidence float64, knownMembers []string, threshold float64) []VoteRecord {
	seen := make(map[string]bool)
	var records []VoteRecord
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, ok := matchLine(line)
		if !ok {
			continue
		}
		rec.Confidence = baseConfidence

		if len(knownMembers) > 0 {
			if canonical, score := namematch.BestMatch(rec.Name, knownMembers, threshold); canonical != "" {
				rec.Name = canonical
				if score == 1.0 {
					rec.Confidence = 1.0
				}
			}
		}

		key := namematch.Normalize(rec.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		records = append(records, rec)
	}
	return records
}

func matchLine(line string) (VoteRecord, bool) {
	for i, pat := range recordPatterns {
		m := pat.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch i {
		case 0, 1:
			return VoteRecord{
				Name:         m[1],
				Party:        m[2],
				Constituency: m[3],
				Vote:         voteWords[m[4]],
			}, true
		default:
			return VoteRecord{
				Name: m[1],
				Vote: voteWords[m[2]],
			}, true
		}
	}
	return VoteRecord{}, false
}

// gate applies the session acceptance rules: enough records, a decisive
// majority of yes/no positions, and a bounded share of records missing
// party or constituency.
func (e *Extractor) gate(records []VoteRecord) error {
	if len(records) < e.cfg.MinMemberCount {
		return fmt.Errorf("only %d records, need %d", len(records), e.cfg.MinMemberCount)
	}
	var decisive, missing int
	for _, r := range records {
		if r.Vote == VoteYes || r.Vote == VoteNo {
			decisive++
		}
		if r.Party == "" || r.Constituency == "" {
			missing++
		}
	}
	total := len(records)
	if float64(decisive) < 0.5*float64(total) {
		return fmt.Errorf("decisive votes %d/%d below 50%%", decisive, total)
	}
	if float64(missing) > 0.2*float64(total) {
		return fmt.Errorf("missing-data records %d/%d above 20%%", missing, total)
	}
	return nil
}
