package performance

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pavelanni/studentdash/internal/model"
)

// PassingScore is the score a subject summary must exceed to be approved.
const PassingScore = 7.0

// Score returns correct/total on a 0-10 scale rounded to two decimals.
// It returns 0 when total is not positive.
func Score(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*1000) / 100
}

// Classify maps a score to its pass/fail status.
func Classify(score float64) model.Status {
	if score > PassingScore {
		return model.StatusApproved
	}
	return model.StatusNeedsRetry
}

// DisplaySubject lowercases raw and capitalizes its first letter.
// The result is for display only and must not be used as a grouping key.
func DisplaySubject(raw string) string {
	s := cases.Lower(language.Und).String(strings.TrimSpace(raw))
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
