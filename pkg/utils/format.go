// Package utils provides shared formatting, market-hours and retry helpers.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatIndianCurrency formats an amount in rupees with Indian digit grouping
// (lakhs, crores), e.g. ₹1,23,456.78.
func FormatIndianCurrency(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	negative := d.IsNegative()
	if negative {
		d = d.Neg()
	}

	intPart, decPart, _ := strings.Cut(d.StringFixed(2), ".")
	result := "₹" + formatIndianNumber(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber groups an integer string: last three digits, then pairs.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPrice formats a price with exactly two decimals.
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).StringFixed(2)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	d := decimal.NewFromFloat(value).StringFixed(2)
	if value > 0 {
		return "+" + d + "%"
	}
	return d + "%"
}

// FormatPnL formats a profit or loss with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatIndianCurrency(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a quantity with Indian digit grouping.
func FormatQuantity(qty int64) string {
	s := decimal.NewFromInt(qty).String()
	if strings.HasPrefix(s, "-") {
		return "-" + formatIndianNumber(s[1:])
	}
	return formatIndianNumber(s)
}

// FormatCompact formats a number in lakhs or crores when large enough.
func FormatCompact(amount float64) string {
	d := decimal.NewFromFloat(amount)
	abs := d.Abs()

	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(10000000)):
		return d.Div(decimal.NewFromInt(10000000)).StringFixed(2) + " Cr"
	case abs.GreaterThanOrEqual(decimal.NewFromInt(100000)):
		return d.Div(decimal.NewFromInt(100000)).StringFixed(2) + " L"
	}
	return FormatIndianCurrency(amount)
}
