package content

import (
	"regexp"
	"strings"
)

// signatureTailRatio: only the final 40% of a body may be treated as signature.
const signatureTailRatio = 0.6

var signatureMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^-- ?$`),
	regexp.MustCompile(`(?im)^[ \t]*sent from my (?:iphone|ipad|android|phone|mobile|smartphone|samsung|galaxy|blackberry)\b.*$`),
	regexp.MustCompile(`(?im)^[ \t]*(?:sent|get) (?:from )?outlook for (?:ios|android)\b.*$`),
	regexp.MustCompile(`(?im)^[ \t]*sent from (?:mail|yahoo mail|gmail) for .*$`),
	regexp.MustCompile(`(?im)^.*\bconfidential(?:ity)? notice\b.*$`),
	regexp.MustCompile(`(?im)^.*\bthis (?:e-?mail|message)(?: and any attachments)? (?:is|are|may be|may contain) (?:confidential|privileged|intended solely)\b.*$`),
	regexp.MustCompile(`(?im)^[ \t]*disclaimer:.*$`),
}

// StripSignature removes a trailing signature. It reports whether anything was stripped.
func StripSignature(text string) (string, bool) {
	cut := -1
	minStart := int(float64(len(text)) * signatureTailRatio)
	for _, re := range signatureMarkers {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[0] < minStart {
				continue
			}
			if cut < 0 || loc[0] < cut {
				cut = loc[0]
			}
			break
		}
	}
	if cut < 0 {
		return text, false
	}
	return strings.TrimRight(text[:cut], " \t\n"), true
}
