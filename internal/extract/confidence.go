package extract

import (
	"math"
	"regexp"
	"strings"

	"github.com/kalambet/bazar/internal/listing"
)

var criticalFields = []string{"brand", "model", "product type"}

var unitTokens = []string{"GB", "MHz", "inches", "W", "Hz", "mAh", "MP", "dB", "mm", "kg"}

var specificityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bv\d`),
	regexp.MustCompile(`\d+\s?GB\b`),
	regexp.MustCompile(`\d+\s?MHz\b`),
	regexp.MustCompile(`\d+(\.\d+)?"`),
	regexp.MustCompile(`\d+\s?W\b`),
	regexp.MustCompile(`\b(Pro|Max|Plus)\b`),
}

// Score rates how trustworthy a validated attribute mapping looks, in [0, 1]
// rounded to two decimals. It is a heuristic, not a probability.
func Score(attrs listing.Attributes) float64 {
	total := attrs.Len()
	if total == 0 {
		return 0
	}

	var found []string
	for _, v := range attrs.All() {
		if !listing.IsMissing(v) {
			found = append(found, v)
		}
	}
	ratio := float64(len(found)) / float64(total)

	critical := countCritical(attrs)
	score := ratio +
		criticalBonus(critical) +
		technicalBonus(found) +
		specificityBonus(found) +
		brandConsistencyBonus(attrs) +
		completenessBonus(ratio)

	score = math.Min(score, 1)
	if critical >= 2 && ratio >= 0.6 {
		score = math.Max(score, 0.9)
	}
	return math.Round(score*100) / 100
}

func countCritical(attrs listing.Attributes) int {
	n := 0
	for _, field := range criticalFields {
		for name, v := range attrs.All() {
			if strings.Contains(strings.ToLower(name), field) && !listing.IsMissing(v) {
				n++
				break
			}
		}
	}
	return n
}

func criticalBonus(n int) float64 {
	switch {
	case n >= 3:
		return 0.30
	case n == 2:
		return 0.20
	case n == 1:
		return 0.10
	}
	return 0
}

func technicalBonus(values []string) float64 {
	n := 0
	for _, v := range values {
		for _, tok := range unitTokens {
			if strings.Contains(v, tok) {
				n++
				break
			}
		}
	}
	switch {
	case n >= 3:
		return 0.20
	case n == 2:
		return 0.15
	case n == 1:
		return 0.10
	}
	return 0
}

func specificityBonus(values []string) float64 {
	n := 0
	for _, v := range values {
		for _, re := range specificityPatterns {
			if re.MatchString(v) {
				n++
				break
			}
		}
	}
	switch {
	case n >= 2:
		return 0.15
	case n == 1:
		return 0.10
	}
	return 0
}

func brandConsistencyBonus(attrs listing.Attributes) float64 {
	brandKey, brand := "", ""
	for name, v := range attrs.All() {
		if strings.Contains(strings.ToLower(name), "brand") && !listing.IsMissing(v) {
			brandKey, brand = name, strings.ToLower(v)
			break
		}
	}
	if brand == "" {
		return 0
	}
	for name, v := range attrs.All() {
		if name != brandKey && strings.Contains(strings.ToLower(v), brand) {
			return 0.10
		}
	}
	return 0
}

func completenessBonus(ratio float64) float64 {
	switch {
	case ratio >= 0.9:
		return 0.05
	case ratio >= 0.8:
		return 0.03
	}
	return 0
}
