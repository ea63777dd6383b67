package parser

import (
	"regexp"
	"strconv"
	"time"
)

// Era offsets: era year 1 corresponds to offset+1 in the Gregorian calendar.
var eraOffsets = map[string]int{
	"令和": 2018,
	"平成": 1988,
	"昭和": 1925,
}

var (
	eraDatePattern     = regexp.MustCompile(`(令和|平成|昭和)(元|\d{1,2})年(\d{1,2})月(\d{1,2})日`)
	westernDatePattern = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	isoDatePattern     = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

// ParseJapaneseDate extracts the first date in the text, accepting the three
// modern era forms, the western 年月日 form, and ISO dates.
func ParseJapaneseDate(s string) *time.Time {
	if m := eraDatePattern.FindStringSubmatch(s); m != nil {
		eraYear := 1
		if m[2] != "元" {
			eraYear, _ = strconv.Atoi(m[2])
		}
		year := eraOffsets[m[1]] + eraYear
		month, _ := strconv.Atoi(m[3])
		day, _ := strconv.Atoi(m[4])
		return makeDate(year, month, day)
	}
	if m := westernDatePattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return makeDate(year, month, day)
	}
	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return makeDate(year, month, day)
	}
	return nil
}

func makeDate(year, month, day int) *time.Time {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}

// FormatDate renders a date in the canonical ISO form used by records.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
