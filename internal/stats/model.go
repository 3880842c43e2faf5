// Package stats rolls DailyActivityRecords up into per-member all-time
// snapshots: totals, streaks, peak hour and the unlocked badge set.
package stats

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsehq/pulse/backend/internal/activity"
)

// BadgeSet is the sorted list of unlocked badge identifiers, stored as a JSON
// text column.
type BadgeSet []string

// Value serializes the set as JSON text.
func (s BadgeSet) Value() (driver.Value, error) {
	if s == nil {
		s = BadgeSet{}
	}
	encoded, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan restores the set from its JSON text column.
func (s *BadgeSet) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*s = BadgeSet{}
		return nil
	case string:
		return json.Unmarshal([]byte(value), (*[]string)(s))
	case []byte:
		return json.Unmarshal(value, (*[]string)(s))
	default:
		return fmt.Errorf("stats: cannot scan badge set from %T", src)
	}
}

// Contains reports membership of a badge identifier.
func (s BadgeSet) Contains(id string) bool {
	for _, candidate := range s {
		if candidate == id {
			return true
		}
	}
	return false
}

// ProfileStatsSnapshot is the all-time rollup for one member. Like the daily
// records it is only ever fully replaced, never patched in place. The summed
// hourly distribution is carried so the incremental extend path can adjust the
// peak hour exactly instead of approximating it.
type ProfileStatsSnapshot struct {
	MemberID       string                `gorm:"column:member_id;primaryKey;size:190;not null"`
	TotalCommits   int                   `gorm:"column:total_commits;not null;default:0"`
	TotalAdditions int                   `gorm:"column:total_additions;not null;default:0"`
	TotalDeletions int                   `gorm:"column:total_deletions;not null;default:0"`
	FirstCommitAt  time.Time             `gorm:"column:first_commit_at"`
	LastCommitAt   time.Time             `gorm:"column:last_commit_at"`
	CurrentStreak  int                   `gorm:"column:current_streak;not null;default:0"`
	LongestStreak  int                   `gorm:"column:longest_streak;not null;default:0"`
	PeakHour       int                   `gorm:"column:peak_hour;not null;default:0"`
	HourlyTotals   activity.HourlyVector `gorm:"column:hourly_totals;type:text;not null"`
	ActiveDays     int                   `gorm:"column:active_days;not null;default:0"`
	Badges         BadgeSet              `gorm:"column:badges;type:text;not null"`
	ComputedAt     time.Time             `gorm:"column:computed_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProfileStatsSnapshot) TableName() string {
	return "profile_stats_snapshots"
}
