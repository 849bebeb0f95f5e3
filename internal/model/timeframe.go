package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a named bucket duration from a closed set.
type Timeframe string

const (
	FiveMinutes    Timeframe = "5m"
	FifteenMinutes Timeframe = "15m"
	ThirtyMinutes  Timeframe = "30m"
	OneHour        Timeframe = "1h"
	FourHours      Timeframe = "4h"
	OneDay         Timeframe = "1d"
)

// Sub-hour durations divide 60 minutes; the rest are whole hours that divide a day.
var timeframeDurations = map[Timeframe]time.Duration{
	FiveMinutes:    5 * time.Minute,
	FifteenMinutes: 15 * time.Minute,
	ThirtyMinutes:  30 * time.Minute,
	OneHour:        time.Hour,
	FourHours:      4 * time.Hour,
	OneDay:         24 * time.Hour,
}

// Timeframes lists the catalog in ascending duration order.
func Timeframes() []Timeframe {
	return []Timeframe{FiveMinutes, FifteenMinutes, ThirtyMinutes, OneHour, FourHours, OneDay}
}

// ParseTimeframe resolves an identifier like "15m" or "4H".
func ParseTimeframe(id string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(id)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, id)
	}
	return tf, nil
}

// Duration returns the exact bucket duration, or 0 for an unknown value.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid reports whether tf is in the catalog.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

func (tf Timeframe) String() string { return string(tf) }
