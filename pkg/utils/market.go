package utils

import (
	"time"

	"papermarket/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Session boundaries in minutes after IST midnight.
const (
	preOpenMinute   = 9 * 60
	openMinute      = 9*60 + 15
	squareOffMinute = 15*60 + 15
	closeMinute     = 15*60 + 30
)

// MarketStatusAt returns the market status at t.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)

	if IsWeekend(now) {
		return models.MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	if timeMinutes >= preOpenMinute && timeMinutes < openMinute {
		return models.MarketPreOpen
	}

	if timeMinutes >= openMinute && timeMinutes < closeMinute {
		// MIS square-off warning: 15:00 - 15:15
		if timeMinutes >= squareOffMinute-15 && timeMinutes < squareOffMinute {
			return models.MarketMISSquareOffWarn
		}
		return models.MarketOpen
	}

	return models.MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsWeekend reports whether t falls on a Saturday or Sunday in IST.
func IsWeekend(t time.Time) bool {
	d := t.In(IndiaLocation).Weekday()
	return d == time.Saturday || d == time.Sunday
}

// SkipWeekend moves t forward to the following Monday when it falls on a
// weekend, keeping the time of day.
func SkipWeekend(t time.Time) time.Time {
	for IsWeekend(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// SessionOpen returns the 09:15 IST open of the trading day containing t.
// Weekend dates roll back to the preceding Friday.
func SessionOpen(t time.Time) time.Time {
	day := t.In(IndiaLocation)
	for IsWeekend(day) {
		day = day.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 9, 15, 0, 0, IndiaLocation)
}

// TradingDay returns the IST calendar date of t as YYYY-MM-DD.
func TradingDay(t time.Time) string {
	return t.In(IndiaLocation).Format("2006-01-02")
}

// GetNextMarketOpen returns the next market opening time.
func GetNextMarketOpen() time.Time {
	now := time.Now().In(IndiaLocation)

	// Start with today at 9:15
	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)

	// If already past today's open, move to tomorrow
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	return SkipWeekend(next)
}
