package utils

import (
	"time"

	"tradedesk/internal/models"
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

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// MarketStatusAt returns the equity market status at t. Exchange holidays are
// not modelled.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return models.MarketPreOpen
	}

	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		// MIS square-off warning: 15:00 - 15:15
		if timeMinutes >= 900 && timeMinutes < 915 {
			return models.MarketMISSquareOffWarn
		}
		return models.MarketOpen
	}

	return models.MarketClosed
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return IsOpenStatus(GetMarketStatus())
}

// IsOpenStatus reports whether status allows trading.
func IsOpenStatus(status models.MarketStatus) bool {
	return status == models.MarketOpen || status == models.MarketMISSquareOffWarn
}

// GetMISSquareOffTime returns today's MIS square-off time.
func GetMISSquareOffTime() time.Time {
	now := time.Now().In(IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day(), 15, 15, 0, 0, IndiaLocation)
}

// TimeUntilMISSquareOff returns the duration until MIS square-off.
func TimeUntilMISSquareOff() time.Duration {
	return time.Until(GetMISSquareOffTime())
}
