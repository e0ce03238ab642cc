// Package similarity scores how alike two texts are.
package similarity

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"
)

var bracketedNumeral = regexp.MustCompile(`\[\d+\]`)

// Cosine compares term-frequency vectors of lowercased word tokens.
type Cosine struct{}

// NewCosine returns a Cosine scorer.
func NewCosine() *Cosine {
	return &Cosine{}
}

// Compare returns the cosine similarity of a and b in [0, 1]. Empty input scores 0.
func (c *Cosine) Compare(ctx context.Context, a, b string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	va, vb := termFrequencies(a), termFrequencies(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0, nil
	}
	var dot, na, nb float64
	for term, fa := range va {
		na += fa * fa
		if fb, ok := vb[term]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range vb {
		nb += fb * fb
	}
	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Min(score, 1), nil
}

// Clean strips citation markers like "[12]" from text.
func Clean(text string) string {
	return bracketedNumeral.ReplaceAllString(text, "")
}

func termFrequencies(text string) map[string]float64 {
	tf := make(map[string]float64)
	for _, tok := range strings.FieldsFunc(Clean(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tf[strings.ToLower(tok)]++
	}
	return tf
}
