// Package clock holds the pure time-zone arithmetic used by notification
// scheduling: computing the next instant a zone's wall clock reads a target
// time, and the zone's UTC offset label at a given instant.
package clock

import (
	"fmt"
	"time"
)

// NextLocalInstant returns the smallest UTC instant at or after base whose
// wall-clock rendering in zone equals hour:minute. If the local wall clock at
// base already reads at or past the target time-of-day, the local calendar
// date advances by one day. Advancing the calendar date rather than adding a
// fixed 24h keeps the result correct across 23- and 25-hour DST-transition
// days; time.Date in-location resolves the offset in effect at the candidate
// instant, including offsets that change between base and the target.
func NextLocalInstant(base time.Time, zone string, hour, minute int) (time.Time, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("target time %02d:%02d out of range", hour, minute)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load zone %s: %w", zone, err)
	}
	local := base.In(loc)
	y, m, d := local.Date()
	if local.Hour() > hour || (local.Hour() == hour && local.Minute() >= minute) {
		d++
	}
	candidate := time.Date(y, m, d, hour, minute, 0, 0, loc)
	// A spring-forward gap can normalize the candidate to before base when
	// the target wall time does not exist on that date.
	if candidate.Before(base) {
		candidate = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}
	return candidate.UTC(), nil
}

// OffsetLabelAt formats the UTC offset in effect in zone at the given
// instant as "+HH:MM" or "-HH:MM". The label is a grouping and display key
// only; it is never used for date arithmetic.
func OffsetLabelAt(zone string, at time.Time) (string, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("load zone %s: %w", zone, err)
	}
	_, offset := at.In(loc).Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offset/3600, offset%3600/60), nil
}
