package engine

import (
	"context"
	"html"
	"strings"
)

// StubModelClient returns a minimal page echoing the brief (for dry runs).
type StubModelClient struct{}

func (m *StubModelClient) Complete(_ context.Context, prompt string) (string, error) {
	brief := "Generated page"
	for _, marker := range []string{`Brief: "`, "--- NEW BRIEF TO IMPLEMENT ---\n\""} {
		if _, rest, ok := strings.Cut(prompt, marker); ok {
			if b, _, ok := strings.Cut(rest, "\"\n"); ok {
				brief = b
			}
			break
		}
	}
	return "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<title>" +
		html.EscapeString(brief) + "</title>\n<style>body{font-family:sans-serif;margin:2rem}</style>\n</head>\n<body>\n<h1>" +
		html.EscapeString(brief) + "</h1>\n<p>This page was produced in dry-run mode.</p>\n</body>\n</html>\n", nil
}
