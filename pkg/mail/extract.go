package mail

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const (
	// CodeLength is the width of an emailed code.
	CodeLength = 6

	// DefaultLabel introduces the code in the message text.
	DefaultLabel = "verification code"

	// DefaultAnchorPhrase is printed next to the code in login emails.
	DefaultAnchorPhrase = "Creative Center login page"
)

var (
	codeToken = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	alnumRun  = regexp.MustCompile(`[A-Za-z0-9]+`)

	// styleAnchors are the inline styles of the element holding the code,
	// most specific first.
	styleAnchors = []*regexp.Regexp{
		regexp.MustCompile(`(?i)background-color:\s*#fafafa`),
		regexp.MustCompile(`(?i)text-align:\s*center`),
		regexp.MustCompile(`(?i)padding:`),
	}
)

// ExtractCode finds the verification code in an email body, which may be
// HTML or plain text. Strategies run in order and the first hit wins:
// styled HTML elements whose whole text is a code, the first code-shaped
// token around the anchor phrase, then every code-shaped token in the text
// with ties broken by distance to the label.
func ExtractCode(body string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return fromText(body)
	}
	if code, ok := fromStyleAnchors(doc); ok {
		return code, true
	}
	return fromText(visibleText(doc))
}

func fromText(text string) (string, bool) {
	if code, ok := nearPhrase(text, DefaultAnchorPhrase, 100, 500); ok {
		return code, true
	}
	return nearestToLabel(text, DefaultLabel)
}

func fromStyleAnchors(doc *html.Node) (string, bool) {
	for _, anchor := range styleAnchors {
		var found string
		walk(doc, func(n *html.Node) bool {
			if n.Type != html.ElementNode || !anchor.MatchString(attr(n, "style")) {
				return true
			}
			if text := strings.TrimSpace(textContent(n)); codeToken.MatchString(text) {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// nearPhrase returns the first code-shaped token within before bytes ahead
// of and after bytes behind the phrase.
func nearPhrase(text, phrase string, before, after int) (string, bool) {
	i := strings.Index(text, phrase)
	if i < 0 {
		return "", false
	}
	start := max(0, i-before)
	end := min(len(text), i+after)

	for _, c := range candidates(text) {
		if c.start >= start && c.end <= end {
			return c.code, true
		}
	}
	return "", false
}

type candidate struct {
	code       string
	start, end int
}

// candidates lists standalone code-shaped tokens that are not part of an
// email address or host name.
func candidates(text string) []candidate {
	var out []candidate
	for _, loc := range alnumRun.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if end-start != CodeLength || !codeToken.MatchString(text[start:end]) {
			continue
		}
		if addressLike(text, start, end) {
			continue
		}
		out = append(out, candidate{code: text[start:end], start: start, end: end})
	}
	return out
}

func addressLike(text string, start, end int) bool {
	if start > 0 && (text[start-1] == '@' || text[start-1] == '.') {
		return true
	}
	if end < len(text) && text[end] == '@' {
		return true
	}
	return end+1 < len(text) && text[end] == '.' && isLetter(text[end+1])
}

// nearestToLabel picks the only candidate, or the one closest to any
// occurrence of label. Candidates after the label win ties. Without a label
// the first candidate is used.
func nearestToLabel(text, label string) (string, bool) {
	cands := candidates(text)
	switch len(cands) {
	case 0:
		return "", false
	case 1:
		return cands[0].code, true
	}

	labels := indexAll(asciiLower(text), strings.ToLower(label))
	if len(labels) == 0 {
		return cands[0].code, true
	}

	best, bestDist := cands[0], -1
	for _, c := range cands {
		for _, l := range labels {
			d := distance(c, l, l+len(label))
			if bestDist < 0 || d < bestDist {
				best, bestDist = c, d
			}
		}
	}
	return best.code, true
}

func distance(c candidate, labelStart, labelEnd int) int {
	if c.start >= labelEnd {
		return c.start - labelEnd
	}
	return labelStart - c.end + 1
}

func indexAll(s, sub string) []int {
	var out []int
	for off := 0; ; {
		i := strings.Index(s[off:], sub)
		if i < 0 {
			return out
		}
		out = append(out, off+i)
		off += i + len(sub)
	}
}

// asciiLower lower-cases ASCII letters only so byte offsets stay aligned.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode && !insideSkipped(c) {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// visibleText joins the text nodes of the document with spaces.
func visibleText(doc *html.Node) string {
	var parts []string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.TextNode && !insideSkipped(n) {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(parts, " ")
}

func skipped(tag string) bool {
	switch strings.ToLower(tag) {
	case "script", "style", "noscript", "title":
		return true
	}
	return false
}

func insideSkipped(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && skipped(p.Data) {
			return true
		}
	}
	return false
}
