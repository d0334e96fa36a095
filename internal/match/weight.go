package match

import (
	"regexp"
	"strconv"
	"strings"
)

var weightPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)(?:\s*/\s*(\d+(?:\.\d+)?))?\s*(mg|grams|gram|gr|g|ounces|ounce|oz|lbs|lb)\b`)

var gramsPerUnit = map[string]float64{
	"mg":     0.001,
	"g":      1,
	"gr":     1,
	"gram":   1,
	"grams":  1,
	"oz":     28.3495,
	"ounce":  28.3495,
	"ounces": 28.3495,
	"lb":     453.592,
	"lbs":    453.592,
}

// ParseWeight extracts the first weight in s and converts it to grams.
// Fractions such as "1/8 oz" are supported.
func ParseWeight(s string) (float64, bool) {
	m := weightPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] != "" {
		d, err := strconv.ParseFloat(m[2], 64)
		if err != nil || d == 0 {
			return 0, false
		}
		n /= d
	}
	factor, ok := gramsPerUnit[strings.ToLower(m[3])]
	if !ok || n <= 0 {
		return 0, false
	}
	return n * factor, true
}
