package content

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const TruncationMarker = "…[truncated]"

// budget shares in percent
const (
	primaryShare = 60
	recentShare  = 25
	olderShare   = 15
)

// minForwardSpace 剩余空间太小时不附加转发内容
const minForwardSpace = 80

// Prepared is the budgeted excerpt handed to the classifier.
type Prepared struct {
	Text      string
	Truncated bool
	Chain     ReplyChain
	Forward   Forward
	Signature bool
}

// Prepare renders a body into at most budget characters: 60% primary content,
// 25% most recent quoted reply, 15% a summary of older replies, then forwarded
// content in what is left. Shares of absent sections go to forwarded content when
// there is one, otherwise back to primary content.
func Prepare(subject, body string, isHTML bool, budget int) Prepared {
	text := body
	if isHTML {
		text = HTMLToPlainText(body)
	} else {
		text = strings.TrimSpace(normalizeNewlines(text))
	}

	var p Prepared
	p.Forward = DetectForward(subject, text)
	main := text
	if p.Forward.Divider {
		main = p.Forward.Comment
	}
	p.Chain = ParseReplyChain(main)
	primary, stripped := StripSignature(p.Chain.Primary)
	p.Signature = stripped

	if budget <= 0 {
		p.Text = ""
		p.Truncated = text != ""
		return p
	}

	recentCap := budget * recentShare / 100
	olderCap := budget * olderShare / 100
	primaryCap := budget - recentCap - olderCap

	spare := 0
	if len(p.Chain.Quoted) == 0 {
		spare += recentCap
		recentCap = 0
	}
	if len(p.Chain.Quoted) < 2 {
		spare += olderCap
		olderCap = 0
	}
	if p.Forward.Body == "" {
		primaryCap += spare
	}

	var b strings.Builder
	s, cut := truncate(primary, primaryCap)
	b.WriteString(s)
	p.Truncated = cut

	if recentCap > 0 {
		q := p.Chain.Quoted[0]
		header := fmt.Sprintf("\n\n[Previous message from %s%s]\n", orUnknown(q.Author), datePart(q.Date))
		s, cut := truncate(q.Text, recentCap-runeLen(header))
		if s != "" {
			b.WriteString(header)
			b.WriteString(s)
		}
		p.Truncated = p.Truncated || cut
	}

	if olderCap > 0 {
		header := "\n\n[Earlier in thread]\n"
		s, cut := truncate(summarizeOlder(p.Chain.Quoted[1:]), olderCap-runeLen(header))
		if s != "" {
			b.WriteString(header)
			b.WriteString(s)
		}
		p.Truncated = p.Truncated || cut
	}

	if p.Forward.Body != "" {
		header := fmt.Sprintf("\n\n[Forwarded message from %s]\n", orUnknown(p.Forward.Headers["from"]))
		remaining := budget - runeLen(b.String()) - runeLen(header)
		if remaining >= minForwardSpace {
			s, cut := truncate(p.Forward.Body, remaining)
			b.WriteString(header)
			b.WriteString(s)
			p.Truncated = p.Truncated || cut
		} else {
			p.Truncated = true
		}
	}

	p.Text = strings.TrimSpace(b.String())
	return p
}

// summarizeOlder compresses each older entry to "author: first sentence".
func summarizeOlder(entries []QuotedEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s: %s", orUnknown(e.Author), firstSentence(e.Text)))
	}
	return strings.Join(lines, "\n")
}

func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for i, r := range s {
		if (r == '.' || r == '?' || r == '!') && i+1 < len(s) && s[i+1] == ' ' {
			return s[:i+1]
		}
	}
	return s
}

// truncate cuts s to at most n runes, marker included.
func truncate(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	if runeLen(s) <= n {
		return s, false
	}
	keep := n - runeLen(TruncationMarker)
	if keep <= 0 {
		return string([]rune(TruncationMarker)[:n]), true
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:keep]), " \n") + TruncationMarker, true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown sender"
	}
	return s
}

func datePart(d string) string {
	if d == "" {
		return ""
	}
	return " on " + d
}
