// Package calendar is the single authority for civil-time day and hour
// bucketing. Every component that needs a calendar-day key or an hour-of-day
// slot must go through this package; deriving day boundaries from raw instants
// anywhere else reintroduces the off-by-one-day defect this package exists to
// eliminate.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

// DayKey identifies one civil calendar day in the system timezone.
type DayKey struct {
	Year  int
	Month time.Month
	Day   int
}

// ErrInvalidDayKey indicates a day-key string that does not parse as YYYY-MM-DD.
var ErrInvalidDayKey = errors.New("calendar: invalid day key")

const dayKeyLayout = "2006-01-02"

// NewDayKey builds a key from explicit components without validation beyond
// what time.Date normalizes.
func NewDayKey(year int, month time.Month, day int) DayKey {
	normalized := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return DayKey{Year: normalized.Year(), Month: normalized.Month(), Day: normalized.Day()}
}

// ParseDayKey parses a YYYY-MM-DD string into a DayKey.
func ParseDayKey(value string) (DayKey, error) {
	parsed, err := time.Parse(dayKeyLayout, value)
	if err != nil {
		return DayKey{}, fmt.Errorf("%w: %q", ErrInvalidDayKey, value)
	}
	return DayKey{Year: parsed.Year(), Month: parsed.Month(), Day: parsed.Day()}, nil
}

// String renders the key as YYYY-MM-DD.
func (k DayKey) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", k.Year, int(k.Month), k.Day)
}

// IsZero reports whether the key is the zero value.
func (k DayKey) IsZero() bool {
	return k.Year == 0 && k.Month == 0 && k.Day == 0
}

// Time returns the civil midnight opening this day in the given location.
func (k DayKey) Time(loc *time.Location) time.Time {
	return time.Date(k.Year, k.Month, k.Day, 0, 0, 0, 0, loc)
}

// Next returns the following calendar day.
func (k DayKey) Next() DayKey {
	next := k.Time(time.UTC).AddDate(0, 0, 1)
	return DayKey{Year: next.Year(), Month: next.Month(), Day: next.Day()}
}

// Prev returns the preceding calendar day.
func (k DayKey) Prev() DayKey {
	prev := k.Time(time.UTC).AddDate(0, 0, -1)
	return DayKey{Year: prev.Year(), Month: prev.Month(), Day: prev.Day()}
}

// Compare orders two keys chronologically: -1, 0 or 1.
func (k DayKey) Compare(other DayKey) int {
	left := k.Time(time.UTC)
	right := other.Time(time.UTC)
	switch {
	case left.Before(right):
		return -1
	case left.After(right):
		return 1
	default:
		return 0
	}
}

// Before reports whether k falls strictly before other.
func (k DayKey) Before(other DayKey) bool {
	return k.Compare(other) < 0
}

// Bucket maps an absolute instant to its civil calendar day and hour slot in
// the given location. Two instants milliseconds apart across civil midnight
// resolve to different keys.
func Bucket(instant time.Time, loc *time.Location) (DayKey, int) {
	local := instant.In(loc)
	key := DayKey{Year: local.Year(), Month: local.Month(), Day: local.Day()}
	return key, local.Hour()
}

// DayBounds returns the half-open instant interval [start, end) covering the
// civil day in the given location. DST transitions are handled by civil
// arithmetic: end is the next day's civil midnight, not start+24h.
func DayBounds(key DayKey, loc *time.Location) (time.Time, time.Time) {
	start := key.Time(loc)
	end := key.Next().Time(loc)
	return start, end
}

// Today returns the current civil day per the supplied clock.
func Today(clock func() time.Time, loc *time.Location) DayKey {
	key, _ := Bucket(clock(), loc)
	return key
}

// DaysBetween enumerates every day from first through last inclusive. It
// returns nil when last precedes first.
func DaysBetween(first, last DayKey) []DayKey {
	if last.Before(first) {
		return nil
	}
	var days []DayKey
	for cursor := first; !last.Before(cursor); cursor = cursor.Next() {
		days = append(days, cursor)
	}
	return days
}
