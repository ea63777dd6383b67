package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minSectionLength is the substance threshold for a section body: shorter
// sibling text falls back to the header's parent.
const minSectionLength = 50

var (
	lawPattern       = regexp.MustCompile(`[一-龥ぁ-んァ-ヶ]{2,30}法(?:律)?(?:案)?`)
	ministryPattern  = regexp.MustCompile(`(?:内閣府|デジタル庁|復興庁|[一-龥]{2,6}省|[一-龥]{2,6}庁)`)
	committeePattern = regexp.MustCompile(`[一-龥ぁ-んァ-ヶ]{2,12}委員会`)
	voteTallyPattern = regexp.MustCompile(`(賛成|反対|可決|否決)[\s:：]*(\d+)?`)
)

// headerSelector matches elements that commonly carry section headers on
// both chambers' detail pages.
const headerSelector = "h1, h2, h3, h4, h5, h6, th, dt, strong, b, .title, .heading"

// extractSection finds the first section whose header contains one of the
// keywords and returns its body text: the nearest following sibling with
// substantial content, falling back to the substantive text of the header's
// parent.
func extractSection(doc *goquery.Document, keywords []string) string {
	var result string
	doc.Find(headerSelector).EachWithBreak(func(_ int, header *goquery.Selection) bool {
		headerText := CleanText(header.Text())
		if !matchesAny(headerText, keywords) {
			return true
		}

		// Nearest following sibling with substantial content.
		for sib := header.Next(); sib.Length() > 0; sib = sib.Next() {
			text := CleanText(sib.Text())
			if len([]rune(text)) > minSectionLength {
				result = text
				return false
			}
		}

		// Fall back to the parent's text with the header removed.
		parentText := CleanText(header.Parent().Text())
		parentText = strings.TrimSpace(strings.TrimPrefix(parentText, headerText))
		if parentText != "" {
			result = parentText
			return false
		}
		return true
	})
	return result
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// extractLaws returns the deduplicated law references found in the text.
func extractLaws(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range lawPattern.FindAllString(text, -1) {
		// The bill's own title shows up as a 法案 reference; related laws
		// are the 法/法律 forms.
		if strings.HasSuffix(m, "案") {
			continue
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// extractMinistry returns the first ministry name in the text.
func extractMinistry(text string) string {
	return ministryPattern.FindString(text)
}

// extractCommittee returns the first committee name in the text.
func extractCommittee(text string) string {
	return committeePattern.FindString(text)
}

// extractVotingResults parses 賛成/反対 tallies from a section body.
func extractVotingResults(text string) map[string]string {
	out := make(map[string]string)
	for _, m := range voteTallyPattern.FindAllStringSubmatch(text, -1) {
		key := m[1]
		switch key {
		case "賛成":
			key = "yes"
		case "反対":
			key = "no"
		case "可決":
			key = "result_passed"
		case "否決":
			key = "result_rejected"
		}
		if m[2] != "" {
			out[key] = m[2]
		} else if strings.HasPrefix(key, "result_") {
			out["result"] = strings.TrimPrefix(key, "result_")
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitEnumeration breaks an enumerated section body into items. Japanese
// legislative text enumerates with 。-terminated sentences or 一、二、
// ordinal markers.
func splitEnumeration(text string) []string {
	var items []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '。' || r == '\n'
	}) {
		part = strings.TrimSpace(part)
		part = strings.TrimLeft(part, "一二三四五六七八九十、. ")
		if len([]rune(part)) >= 5 {
			items = append(items, part)
		}
	}
	return items
}
