package pipeline

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalization steps applied to a raw question before rule matching
const (
	stepTrim             = "trim"
	stepLowercase        = "lowercase"
	stepFoldAccents      = "foldAccents"
	stepStripPunctuation = "stripPunctuation"
	stepCollapseSpaces   = "collapseSpaces"
)

var defaultNormalization = []string{
	stepTrim,
	stepLowercase,
	stepFoldAccents,
	stepStripPunctuation,
	stepCollapseSpaces,
}

// NormalizeQuery lower-cases a question, folds accents ("ção" -> "cao",
// "nº" -> "no") and collapses whitespace so rules can use plain ASCII keywords.
func NormalizeQuery(raw string) string {
	out, err := applyNormalization(raw, defaultNormalization)
	if err != nil {
		// only unknown step names fail, and the default chain has none
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return out
}

// applyNormalization runs the named steps in order
func applyNormalization(s string, steps []string) (string, error) {
	for _, step := range steps {
		switch step {
		case stepTrim:
			s = strings.TrimSpace(s)
		case stepLowercase:
			s = strings.ToLower(s)
		case stepFoldAccents:
			s = foldAccents(s)
		case stepStripPunctuation:
			s = stripPunctuation(s)
		case stepCollapseSpaces:
			s = strings.Join(strings.Fields(s), " ")
		default:
			return "", fmt.Errorf("unknown normalization step: %s", step)
		}
	}
	return s, nil
}

// foldAccents decomposes with NFKD (so ordinals like "º" become "o") and
// drops combining marks
func foldAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// stripPunctuation blanks sentence punctuation but keeps the characters
// used inside dates and codes
func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == '/' || r == '.' || r == ':' || r == '_':
			return r
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			return ' '
		default:
			return r
		}
	}, s)
}
