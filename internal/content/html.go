package content

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// skipTags 整棵子树丢弃
var skipTags = map[string]bool{
	"style":    true,
	"script":   true,
	"head":     true,
	"noscript": true,
	"template": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "table": true, "ul": true, "ol": true, "hr": true,
	"section": true, "article": true, "header": true, "footer": true, "pre": true,
}

var (
	inlineSpaceRe = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// HTMLToPlainText converts an HTML body into readable plain text.
func HTMLToPlainText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input, either way we keep what we have
			return collapseWhitespace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if skip == 0 && blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip == 0 && blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

func collapseWhitespace(s string) string {
	s = normalizeNewlines(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpaceRe.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
