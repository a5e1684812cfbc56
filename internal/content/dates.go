package content

import (
	"regexp"
	"sort"
	"strings"
)

const maxDateHints = 10

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b`),
	regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.? \d{1,2}(?:st|nd|rd|th)?(?:,? \d{4})?\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)? (?:of )?(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*(?:,? \d{4})?\b`),
	regexp.MustCompile(`(?i)\b(?:by|due|before|until|no later than)\s+(?:(?:next|this)\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|tonight|eod|end of (?:the )?(?:day|week|month))\b`),
	regexp.MustCompile(`(?i)\b(?:tomorrow|eod|end of (?:the )?day|end of (?:the )?week)\b`),
}

// ScanDates returns date-like strings found in text, in order of first appearance.
func ScanDates(text string) []string {
	type hit struct {
		at  int
		val string
	}
	var hits []hit
	seen := make(map[string]bool)
	for _, re := range datePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			v := strings.TrimSpace(text[loc[0]:loc[1]])
			key := strings.ToLower(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			hits = append(hits, hit{at: loc[0], val: v})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at < hits[j].at })

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if len(out) == maxDateHints {
			break
		}
		out = append(out, h.val)
	}
	return out
}
