package utils

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var indianGrouping = regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

// For any amount, FormatIndianCurrency keeps the value to the paisa, uses a
// rupee prefix with an optional sign, two decimals and lakh/crore grouping.
func TestProperty_IndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("valid Indian format", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatIndianCurrency(amount)

			body := strings.TrimPrefix(formatted, "-")
			if !strings.HasPrefix(body, "₹") {
				t.Logf("missing rupee prefix: %s", formatted)
				return false
			}
			body = strings.TrimPrefix(body, "₹")

			intPart, decPart, ok := strings.Cut(body, ".")
			if !ok || len(decPart) != 2 {
				t.Logf("expected two decimals: %s", formatted)
				return false
			}
			if !indianGrouping.MatchString(intPart) {
				t.Logf("bad grouping: %s", formatted)
				return false
			}

			parsed, err := strconv.ParseFloat(strings.ReplaceAll(intPart, ",", "")+"."+decPart, 64)
			if err != nil {
				return false
			}
			if strings.HasPrefix(formatted, "-") {
				parsed = -parsed
			}
			return math.Abs(parsed-amount) <= 0.0051
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("sign follows the amount", prop.ForAll(
		func(amount float64) bool {
			negative := strings.HasPrefix(FormatIndianCurrency(amount), "-")
			switch {
			case amount >= 0:
				return !negative
			case amount <= -0.01:
				return negative
			}
			return true
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
