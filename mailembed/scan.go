package mailembed

import (
	"regexp"
	"strings"
)

// Attribute and CSS patterns that can carry external resource URLs in
// email HTML. Legacy attributes (background=) still occur in the wild.
var (
	imgSrcRe      = regexp.MustCompile(`(?i)<img[^>]+?src\s*=\s*["']([^"']+)["']`)
	srcsetRe      = regexp.MustCompile(`(?i)srcset\s*=\s*["']([^"']+)["']`)
	cssURLRe      = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)
	linkHrefRe    = regexp.MustCompile(`(?i)<link[^>]+?href\s*=\s*["']([^"']+)["']`)
	sourceSrcRe   = regexp.MustCompile(`(?i)<source[^>]+?src\s*=\s*["']([^"']+)["']`)
	videoPosterRe = regexp.MustCompile(`(?i)<video[^>]+?poster\s*=\s*["']([^"']+)["']`)
	backgroundRe  = regexp.MustCompile(`(?i)background\s*=\s*["']([^"']+)["']`)
)

// trackingFragments identify beacon/analytics URLs that must never be
// fetched: doing so would confirm receipt to the sender.
var trackingFragments = []string{
	"/track",
	"/pixel",
	"/open.",
	"mailchimp.com/track",
	"google-analytics",
	"/beacon",
}

// ScanResourceURLs returns the deduplicated external resource URLs
// referenced by the HTML body, in order of first appearance. Inline
// (data:), already-embedded (cid:), non-HTTP, and tracking URLs are
// filtered out.
func ScanResourceURLs(html string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(raw string) {
		u := strings.TrimSpace(raw)
		if !isEmbeddable(u) || isTrackingURL(u) {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	for _, re := range []*regexp.Regexp{imgSrcRe, cssURLRe, linkHrefRe, sourceSrcRe, videoPosterRe, backgroundRe} {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			add(m[1])
		}
	}

	// srcset holds comma-separated "url descriptor" entries.
	for _, m := range srcsetRe.FindAllStringSubmatch(html, -1) {
		for _, entry := range strings.Split(m[1], ",") {
			fields := strings.Fields(entry)
			if len(fields) > 0 {
				add(fields[0])
			}
		}
	}

	return out
}

func isEmbeddable(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isTrackingURL(u string) bool {
	lower := strings.ToLower(u)
	for _, frag := range trackingFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
