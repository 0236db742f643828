// Package stream builds and parses the ledger's stream-id conventions.
//
// Stream ids are routing keys. Producers outside the core still rely on the
// restaurant-{id}-... shapes below, so they are preserved exactly; new code
// carries the restaurant id explicitly in payloads and metadata and only
// falls back to ParseRestaurantID for legacy events.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

const (
	restaurantPrefix = "restaurant-"
	tipsMarker       = "-tips-"
	payoutsSuffix    = "payouts"
	settingsSuffix   = "-settings"
	reportMarker     = "-report-"
	templateMarker   = "-template-"

	// DateLayout is the calendar-day format used in stream ids and payloads.
	DateLayout = "2006-01-02"
)

// TipsDistribution is the stream of one day's tip distribution.
func TipsDistribution(restaurantID, date string) string {
	return restaurantPrefix + restaurantID + tipsMarker + date
}

// TipsPayouts is the stream of a restaurant's tip flushes.
func TipsPayouts(restaurantID string) string {
	return restaurantPrefix + restaurantID + tipsMarker + payoutsSuffix
}

// Settings is the stream holding a restaurant's policy changes.
func Settings(restaurantID string) string {
	return restaurantPrefix + restaurantID + settingsSuffix
}

// DailyReport is the stream of one day's close-out report.
func DailyReport(restaurantID, date string) string {
	return restaurantPrefix + restaurantID + reportMarker + date
}

// Template is the stream of versions of one named report template.
func Template(restaurantID, name string) string {
	return restaurantPrefix + restaurantID + templateMarker + name
}

// ParseRestaurantID recovers the restaurant id from a tips stream id of the
// form restaurant-{id}-tips-{suffix}.
//
// The last "-tips-" marker delimits the id, so restaurant ids containing
// hyphens survive. An id that itself contains "-tips-" cannot be recovered
// from the stream id alone; such producers must set the id in the payload.
func ParseRestaurantID(streamID string) (string, bool) {
	if !strings.HasPrefix(streamID, restaurantPrefix) {
		return "", false
	}
	rest := streamID[len(restaurantPrefix):]
	idx := strings.LastIndex(rest, tipsMarker)
	if idx <= 0 {
		return "", false
	}
	if idx+len(tipsMarker) >= len(rest) {
		return "", false
	}
	return rest[:idx], true
}

// ParseDate validates a YYYY-MM-DD calendar day.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	day, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", raw)
	}
	return day, nil
}

// DateOf formats the UTC calendar day of t.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// RestaurantOf resolves the restaurant an event belongs to: the payload's
// restaurantId, then Meta.RestaurantID, then the legacy tips stream id.
func RestaurantOf(evt event.Event) (string, bool) {
	var payload struct {
		RestaurantID string `json:"restaurantId"`
	}
	if len(evt.PayloadJSON) > 0 && json.Unmarshal(evt.PayloadJSON, &payload) == nil {
		if id := strings.TrimSpace(payload.RestaurantID); id != "" {
			return id, true
		}
	}
	if id := strings.TrimSpace(evt.Meta.RestaurantID); id != "" {
		return id, true
	}
	return ParseRestaurantID(evt.StreamID)
}
