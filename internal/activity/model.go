// Package activity derives per-member, per-day activity records from commit
// events. Records are a cache over the events: they are only ever written as a
// full replacement of the (member, day) row, never incremented, so rerunning
// the derivation is always safe.
package activity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// HourlyVector counts commits per hour-of-day slot, index 0-23 in civil time.
type HourlyVector [24]int

// Value serializes the vector as a JSON text column.
func (v HourlyVector) Value() (driver.Value, error) {
	encoded, err := json.Marshal([24]int(v))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan restores the vector from its JSON text column.
func (v *HourlyVector) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*v = HourlyVector{}
		return nil
	case string:
		return json.Unmarshal([]byte(value), (*[24]int)(v))
	case []byte:
		return json.Unmarshal(value, (*[24]int)(v))
	default:
		return fmt.Errorf("activity: cannot scan hourly vector from %T", src)
	}
}

// Total sums all hour slots.
func (v HourlyVector) Total() int {
	total := 0
	for _, count := range v {
		total += count
	}
	return total
}

// TypeCounts counts commits per message category.
type TypeCounts map[CommitType]int

// Value serializes the counts as a JSON text column.
func (c TypeCounts) Value() (driver.Value, error) {
	if c == nil {
		c = TypeCounts{}
	}
	encoded, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan restores the counts from their JSON text column.
func (c *TypeCounts) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*c = TypeCounts{}
		return nil
	case string:
		return json.Unmarshal([]byte(value), c)
	case []byte:
		return json.Unmarshal(value, c)
	default:
		return fmt.Errorf("activity: cannot scan type counts from %T", src)
	}
}

// DailyActivityRecord is the derived activity row for one (member, day) pair.
// A zero-commit day is stored as an explicit zero record so downstream streak
// logic can tell "no activity" from "never computed".
type DailyActivityRecord struct {
	MemberID    string       `gorm:"column:member_id;primaryKey;size:190;not null"`
	Day         string       `gorm:"column:day;primaryKey;size:10;not null;index:idx_activity_day"`
	CommitCount int          `gorm:"column:commit_count;not null;default:0"`
	Additions   int          `gorm:"column:additions;not null;default:0"`
	Deletions   int          `gorm:"column:deletions;not null;default:0"`
	Hourly      HourlyVector `gorm:"column:hourly;type:text;not null"`
	Types       TypeCounts   `gorm:"column:types;type:text;not null"`
	ComputedAt  time.Time    `gorm:"column:computed_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DailyActivityRecord) TableName() string {
	return "daily_activity_records"
}

// HasActivity reports whether any commit landed on this day.
func (r DailyActivityRecord) HasActivity() bool {
	return r.CommitCount > 0
}
