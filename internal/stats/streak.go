package stats

import (
	"sort"

	"github.com/pulsehq/pulse/backend/internal/calendar"
)

// Streaks holds the two streak figures derived from a member's active days.
type Streaks struct {
	Current int
	Longest int
}

// CalculateStreaks derives current and longest streaks from the set of active
// days. Longest is the longest run of calendar-consecutive active days in the
// whole history. Current is the run ending at today, or at yesterday when
// today has no activity yet: the still-open day gets a one-day grace window so
// a streak is not reported broken before the day closes.
func CalculateStreaks(activeDays []calendar.DayKey, today calendar.DayKey) Streaks {
	if len(activeDays) == 0 {
		return Streaks{}
	}

	sorted := make([]calendar.DayKey, 0, len(activeDays))
	seen := make(map[calendar.DayKey]struct{}, len(activeDays))
	for _, day := range activeDays {
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		sorted = append(sorted, day)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	result := Streaks{}
	run := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Next() == sorted[i] {
			run++
			continue
		}
		if run > result.Longest {
			result.Longest = run
		}
		run = 1
	}
	if run > result.Longest {
		result.Longest = run
	}

	anchor := today
	if _, active := seen[anchor]; !active {
		anchor = today.Prev()
	}
	for {
		if _, active := seen[anchor]; !active {
			break
		}
		result.Current++
		anchor = anchor.Prev()
	}

	return result
}
