package domain

import "github.com/dustin/go-humanize"

// FormatPKR renders an amount the way notifications and reports show it,
// e.g. "PKR 12,500".
func FormatPKR(amount int64) string {
	return "PKR " + humanize.Comma(amount)
}
