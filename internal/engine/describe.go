package engine

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
)

// PageSummary is a short description of a generated document.
type PageSummary struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// DescribePage extracts the title and an excerpt of body with go-readability.
// Pages readability cannot parse yield an empty summary.
func DescribePage(body, pageURL string) PageSummary {
	u, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		u = &url.URL{Scheme: "https", Host: "localhost", Path: "/"}
	}
	article, err := readability.FromReader(strings.NewReader(body), u)
	if err != nil {
		return PageSummary{}
	}
	excerpt := article.Excerpt
	if excerpt == "" {
		excerpt = strings.Join(strings.Fields(article.TextContent), " ")
	}
	return PageSummary{
		Title:   strings.TrimSpace(article.Title),
		Excerpt: truncateRunes(excerpt, 280),
	}
}

// truncateRunes truncates s to maxRunes runes (Unicode-safe).
func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}
