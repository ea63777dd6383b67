package parser

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

var whitespaceRun = regexp.MustCompile(`[\s\x{3000}]+`)

// CleanText collapses whitespace runs (including ideographic space) and
// folds width variants so full-width ASCII and half-width katakana normalize
// to their canonical forms. goquery's Text() has already decoded entities by
// the time text reaches here.
func CleanText(s string) string {
	s = width.Fold.String(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeText is CleanText plus punctuation canonicalization. Used by the
// enhance_existing completion strategy; it must be idempotent.
func NormalizeText(s string) string {
	s = CleanText(s)
	replacer := strings.NewReplacer(
		"，", "、",
		"．", "。",
		"｡", "。",
		"､", "、",
	)
	return replacer.Replace(s)
}

// ContainsJapanese reports whether the string contains hiragana, katakana,
// or kanji code points.
func ContainsJapanese(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) {
			return true
		}
	}
	return false
}
