package enrich

import (
	"regexp"
	"strings"
)

// MaxCandidateWords caps stored candidate text.
const MaxCandidateWords = 1000

var (
	bulletRun  = regexp.MustCompile(`[•●▪■►·]+`)
	blankRun   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRun = regexp.MustCompile(`\n\s*\n+`)
)

// cleanText normalises whitespace and bullets in extracted page text.
func cleanText(text string) string {
	text = bulletRun.ReplaceAllString(text, " ")
	text = blankRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// truncateWords keeps the first max words of text.
func truncateWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:max], " ")
}
