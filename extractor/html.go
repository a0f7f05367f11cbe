package extractor

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText converts HTML to readable plain text. The markup is first
// sanitized, then converted to markdown; if the converter produces
// nothing, a plain DOM text walk is the fallback.
func (e *Engine) HTMLToText(raw string) string {
	clean := e.sanitizer.Sanitize(raw)

	if md, err := e.md.ConvertString(clean); err == nil {
		if s := strings.TrimSpace(md); s != "" {
			return s
		}
	}

	doc, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		return ""
	}
	return collectText(doc)
}

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

// collectText extracts all visible text from a node subtree.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
