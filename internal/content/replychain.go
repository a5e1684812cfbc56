package content

import (
	"regexp"
	"strings"
)

const maxQuoteDepth = 16

// QuotedEntry is one earlier message found in a reply chain.
type QuotedEntry struct {
	Author string
	Date   string
	Text   string
}

// ReplyChain splits a body into the newest content and its quoted history (newest first).
type ReplyChain struct {
	Primary string
	Quoted  []QuotedEntry
}

type boundaryKind int

const (
	boundaryWrote boundaryKind = iota + 1
	boundaryHeaderBlock
	boundaryQuote
)

type boundary struct {
	kind   boundaryKind
	author string
	date   string
	skip   int // header lines consumed
}

var (
	onWroteRe     = regexp.MustCompile(`^\s*On (.+) wrote:\s*$`)
	onStartRe     = regexp.MustCompile(`^\s*On \S.*$`)
	wroteEndRe    = regexp.MustCompile(`^(.*)\bwrote:\s*$`)
	clockRe       = regexp.MustCompile(`\d{1,2}:\d{2}(?:\s?[AaPp]\.?[Mm]\b\.?)?`)
	fromLineRe    = regexp.MustCompile(`^\s*\*?From:\*?\s*(.+)$`)
	sentLineRe    = regexp.MustCompile(`^\s*\*?(?:Sent|Date):\*?\s*(.+)$`)
	headerLineRe  = regexp.MustCompile(`^\s*\*?(?:From|Sent|Date|To|Cc|Subject|Reply-To):\*?`)
	origMessageRe = regexp.MustCompile(`(?i)^\s*-{2,}\s*Original Message\s*-{2,}\s*$`)
)

// ParseReplyChain detects "On <date>, <person> wrote:", From/Sent/To/Subject header
// blocks and leading '>' quoting.
func ParseReplyChain(text string) ReplyChain {
	text = normalizeNewlines(text)

	var chain ReplyChain
	var pending *boundary
	for depth := 0; ; depth++ {
		lines := strings.Split(text, "\n")
		at, b := findBoundary(lines)
		if at < 0 || depth >= maxQuoteDepth {
			body := strings.TrimSpace(text)
			if pending == nil {
				chain.Primary = body
			} else {
				chain.Quoted = append(chain.Quoted, QuotedEntry{Author: pending.author, Date: pending.date, Text: body})
			}
			return chain
		}

		head := strings.TrimSpace(strings.Join(lines[:at], "\n"))
		quoted, tail := splitQuoted(lines[at+b.skip:], b.kind)
		if tail != "" {
			head = strings.TrimSpace(head + "\n\n" + tail)
		}

		if pending == nil {
			chain.Primary = head
		} else {
			chain.Quoted = append(chain.Quoted, QuotedEntry{Author: pending.author, Date: pending.date, Text: head})
		}
		bb := b
		pending = &bb
		text = quoted
	}
}

func findBoundary(lines []string) (int, boundary) {
	for i, line := range lines {
		if m := onWroteRe.FindStringSubmatch(line); m != nil {
			author, date := splitAttribution(m[1])
			return i, boundary{kind: boundaryWrote, author: author, date: date, skip: 1}
		}
		// attribution wrapped onto two lines
		if onStartRe.MatchString(line) && i+1 < len(lines) {
			if m := wroteEndRe.FindStringSubmatch(lines[i+1]); m != nil {
				joined := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "On ")) + " " + strings.TrimSpace(m[1])
				author, date := splitAttribution(strings.TrimSpace(joined))
				return i, boundary{kind: boundaryWrote, author: author, date: date, skip: 2}
			}
		}
		if origMessageRe.MatchString(line) && i+1 < len(lines) && fromLineRe.MatchString(lines[i+1]) {
			if b, ok := headerBlock(lines, i+1); ok {
				b.skip++
				return i, b
			}
		}
		if fromLineRe.MatchString(line) {
			if b, ok := headerBlock(lines, i); ok {
				return i, b
			}
		}
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			return i, boundary{kind: boundaryQuote}
		}
	}
	return -1, boundary{}
}

// headerBlock recognizes an Outlook style From/Sent/To/Subject block starting at i.
func headerBlock(lines []string, i int) (boundary, bool) {
	b := boundary{kind: boundaryHeaderBlock}
	b.author = strings.TrimSpace(fromLineRe.FindStringSubmatch(lines[i])[1])

	hasDate := false
	j := i
	for ; j < len(lines) && j < i+8; j++ {
		if !headerLineRe.MatchString(lines[j]) {
			break
		}
		if m := sentLineRe.FindStringSubmatch(lines[j]); m != nil {
			b.date = strings.TrimSpace(m[1])
			hasDate = true
		}
	}
	if !hasDate {
		return boundary{}, false
	}
	b.skip = j - i
	return b, true
}

// splitAttribution separates "<date>, <person>" as written by common clients.
func splitAttribution(s string) (author, date string) {
	s = strings.TrimSpace(s)
	if loc := clockRe.FindStringIndex(s); loc != nil {
		date = strings.TrimSpace(s[:loc[1]])
		author = strings.TrimSpace(strings.TrimLeft(s[loc[1]:], ", ."))
		if author != "" {
			return author, date
		}
	}
	if i := strings.LastIndex(s, ", "); i >= 0 {
		return strings.TrimSpace(s[i+2:]), strings.TrimSpace(s[:i])
	}
	return s, ""
}

// splitQuoted returns the quoted body (one quote level removed) and any unquoted tail.
func splitQuoted(lines []string, kind boundaryKind) (quoted, tail string) {
	if kind == boundaryHeaderBlock {
		return strings.Join(lines, "\n"), ""
	}

	first := 0
	for first < len(lines) && strings.TrimSpace(lines[first]) == "" {
		first++
	}
	if first == len(lines) || !isQuoted(lines[first]) {
		return strings.Join(lines, "\n"), ""
	}

	end := first
	for end < len(lines) && (isQuoted(lines[end]) || strings.TrimSpace(lines[end]) == "") {
		end++
	}

	out := make([]string, 0, end-first)
	for _, line := range lines[first:end] {
		out = append(out, unquote(line))
	}
	return strings.Join(out, "\n"), strings.TrimSpace(strings.Join(lines[end:], "\n"))
}

func isQuoted(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), ">")
}

func unquote(line string) string {
	t := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(t, ">") {
		return line
	}
	t = t[1:]
	return strings.TrimPrefix(t, " ")
}
