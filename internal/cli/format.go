package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"papermarket/pkg/utils"
)

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	return utils.FormatIndianCurrency(amount)
}

// FormatPnL formats P&L with sign.
func FormatPnL(pnl float64) string {
	return utils.FormatPnL(pnl)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	return utils.FormatPercent(value)
}

// FormatVolume formats a traded volume with thousands separators, or in
// SI units past a million.
func FormatVolume(volume int64) string {
	if volume >= 1_000_000 {
		v, unit := humanize.ComputeSI(float64(volume))
		return fmt.Sprintf("%.2f%s", v, unit)
	}
	return humanize.Comma(volume)
}

// FormatMarketCap formats a market capitalisation in rupees as crores.
func FormatMarketCap(rupees float64) string {
	crores := rupees / 1e7
	if crores >= 100000 {
		return fmt.Sprintf("%s L Cr", humanize.CommafWithDigits(crores/100000, 2))
	}
	return fmt.Sprintf("%s Cr", humanize.CommafWithDigits(crores, 0))
}

// FormatPrice formats a price to two decimals.
func FormatPrice(price float64) string {
	return fmt.Sprintf("%.2f", price)
}

// FormatOptionalPrice formats p or a dash when unset.
func FormatOptionalPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return FormatPrice(*p)
}

// FormatDateTime formats a datetime in IST.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04:05")
}

// FormatAge formats how long ago t was.
func FormatAge(t time.Time) string {
	return humanize.Time(t)
}

// FormatChange formats a price change.
func FormatChange(change, changePct float64) string {
	sign := ""
	if change > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f (%s%.2f%%)", sign, change, sign, changePct)
}

// FormatRatio formats a valuation ratio, or a dash when it is not
// meaningful.
func FormatRatio(v float64) string {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
