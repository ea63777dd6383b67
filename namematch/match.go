package namematch

import (
	"strings"

	"golang.org/x/text/width"
)

// DefaultThreshold is the minimum similarity score for a fuzzy match.
const DefaultThreshold = 0.7

// Honorifics stripped before matching. 君 is the parliamentary register used
// in roll-call documents; the rest appear in press listings.
var honorificSuffixes = []string{"君", "さん", "氏", "議員", "先生", "殿"}

var honorificPrefixes = []string{"故"}

// ocrConfusions maps characters that OCR on roll-call PDFs reliably
// misreads. Keys are misread forms, values the canonical form.
var ocrConfusions = map[rune]rune{
	'末': '未',
	'未': '末',
	'士': '土',
	'土': '士',
	'太': '大',
	'大': '太',
	'目': '日',
	'日': '目',
	'巳': '己',
	'己': '巳',
	'問': '間',
	'間': '問',
	'朗': '郎',
	'郎': '朗',
	'埼': '崎',
	'崎': '埼',
	'澤': '沢',
	'沢': '澤',
	'齋': '斎',
	'斎': '齋',
	'邊': '辺',
	'邉': '辺',
	'會': '会',
	'國': '国',
}

// Normalize prepares a name for comparison: fold width variants, drop all
// whitespace, strip honorifics.
func Normalize(name string) string {
	s := width.Fold.String(name)
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '　' {
			return -1
		}
		return r
	}, s)
	for _, p := range honorificPrefixes {
		s = strings.TrimPrefix(s, p)
	}
	// Strip repeatedly so 山田太郎君さん style double suffixes also clear.
	for {
		trimmed := s
		for _, suf := range honorificSuffixes {
			trimmed = strings.TrimSuffix(trimmed, suf)
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return s
}

// BestMatch finds the candidate most similar to ocrName. It returns the
// canonical candidate and the score, or ("", score) when no candidate
// reaches the threshold.
//
// The pipeline is: exact match after normalization (1.0), single-character
// OCR-confusion repair (0.9), then character-set Jaccard similarity.
func BestMatch(ocrName string, candidates []string, threshold float64) (string, float64) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	norm := Normalize(ocrName)
	if norm == "" {
		return "", 0
	}

	normalized := make(map[string]string, len(candidates)) // normalized -> canonical
	for _, c := range candidates {
		n := Normalize(c)
		if n == "" {
			continue
		}
		if _, dup := normalized[n]; !dup {
			normalized[n] = c
		}
	}

	if canonical, ok := normalized[norm]; ok {
		return canonical, 1.0
	}

	for _, variant := range confusionVariants(norm) {
		if canonical, ok := normalized[variant]; ok {
			return canonical, 0.9
		}
	}

	var bestName string
	var bestScore float64
	for n, canonical := range normalized {
		score := charJaccard(norm, n)
		if score > bestScore {
			bestScore = score
			bestName = canonical
		}
	}
	if bestScore >= threshold {
		return bestName, bestScore
	}
	return "", bestScore
}

// confusionVariants generates every single-substitution variant of the name
// using the OCR confusion table.
func confusionVariants(name string) []string {
	runes := []rune(name)
	var variants []string
	for i, r := range runes {
		repl, ok := ocrConfusions[r]
		if !ok {
			continue
		}
		v := make([]rune, len(runes))
		copy(v, runes)
		v[i] = repl
		variants = append(variants, string(v))
	}
	return variants
}

// charJaccard is the Jaccard similarity of the two names' rune sets.
func charJaccard(a, b string) float64 {
	setA := make(map[rune]bool)
	for _, r := range a {
		setA[r] = true
	}
	setB := make(map[rune]bool)
	for _, r := range b {
		setB[r] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	var inter int
	for r := range setA {
		if setB[r] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
