package content

import (
	"regexp"
	"strings"
)

// Forward describes a forwarded message found in a body.
type Forward struct {
	IsForward bool
	// Divider is true when an explicit forward divider split the body.
	Divider bool
	Comment string
	Headers map[string]string
	Body    string
}

var (
	fwdSubjectRe  = regexp.MustCompile(`(?i)^\s*(?:(?:re|aw)\s*:\s*)*(?:fwd?|fw)\s*:`)
	fwdDividerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^[ \t]*-{2,}\s*Forwarded message\s*-{2,}[ \t]*$`),
		regexp.MustCompile(`(?im)^[ \t]*Begin forwarded message:[ \t]*$`),
	}
	fwdHeaderRe = regexp.MustCompile(`^\s*\*?(From|Date|Sent|Subject|To|Cc):\*?\s*(.*)$`)
)

// IsForwardSubject reports a Fwd:/Fw: subject prefix.
func IsForwardSubject(subject string) bool {
	return fwdSubjectRe.MatchString(subject)
}

// DetectForward separates the forwarder's comment from the original message.
func DetectForward(subject, text string) Forward {
	text = normalizeNewlines(text)
	f := Forward{IsForward: IsForwardSubject(subject), Comment: text}

	start, end := -1, -1
	for _, re := range fwdDividerRes {
		if loc := re.FindStringIndex(text); loc != nil && (start < 0 || loc[0] < start) {
			start, end = loc[0], loc[1]
		}
	}
	// Outlook uses the same divider for replies, so it only counts on a forward subject.
	if start < 0 && f.IsForward {
		if loc := origMessageDividerRe.FindStringIndex(text); loc != nil {
			start, end = loc[0], loc[1]
		}
	}
	if start < 0 {
		return f
	}

	f.IsForward = true
	f.Divider = true
	f.Comment = strings.TrimSpace(text[:start])
	f.Headers = make(map[string]string)

	lines := strings.Split(strings.TrimLeft(text[end:], "\n"), "\n")
	i := 0
	for ; i < len(lines); i++ {
		m := fwdHeaderRe.FindStringSubmatch(lines[i])
		if m == nil {
			break
		}
		f.Headers[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	f.Body = strings.TrimSpace(strings.Join(lines[i:], "\n"))
	return f
}

var origMessageDividerRe = regexp.MustCompile(`(?im)^[ \t]*-{2,}\s*Original Message\s*-{2,}[ \t]*$`)
