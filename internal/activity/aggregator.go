package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsehq/pulse/backend/internal/calendar"
	"github.com/pulsehq/pulse/backend/internal/commits"
	"github.com/pulsehq/pulse/backend/internal/members"
)

var (
	errMissingDatabase    = errors.New("activity: database handle is required")
	errMissingEventSource = errors.New("activity: event source is required")
	errMissingLocation    = errors.New("activity: timezone location is required")
)

// EventSource provides the commit events a day's record is derived from.
type EventSource interface {
	ListForMemberBetween(ctx context.Context, authorEmail string, start, end time.Time) ([]commits.CommitEvent, error)
}

// AggregatorConfig describes the dependencies of the daily aggregator.
type AggregatorConfig struct {
	Database    *gorm.DB
	EventSource EventSource
	Location    *time.Location
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Aggregator recomputes DailyActivityRecords from commit events.
type Aggregator struct {
	db     *gorm.DB
	events EventSource
	loc    *time.Location
	clock  func() time.Time
	logger *zap.Logger
}

// NewAggregator constructs the daily aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.EventSource == nil {
		return nil, errMissingEventSource
	}
	if cfg.Location == nil {
		return nil, errMissingLocation
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		db:     cfg.Database,
		events: cfg.EventSource,
		loc:    cfg.Location,
		clock:  clock,
		logger: logger,
	}, nil
}

// ComputeDay derives the record for one (member, day) pair entirely in memory.
// Events with an unusable timestamp are skipped and logged; the rest of the
// day still aggregates. The computed-at field is left zero so byte-comparison
// of two computations over the same event set is meaningful.
func (a *Aggregator) ComputeDay(ctx context.Context, member members.Member, day calendar.DayKey) (DailyActivityRecord, error) {
	start, end := calendar.DayBounds(day, a.loc)
	events, err := a.events.ListForMemberBetween(ctx, member.Email, start, end)
	if err != nil {
		return DailyActivityRecord{}, fmt.Errorf("activity: fetch events for %s on %s: %w", member.ID, day, err)
	}

	record := DailyActivityRecord{
		MemberID: member.ID,
		Day:      day.String(),
		Types:    TypeCounts{},
	}

	for _, event := range events {
		if event.AuthoredAt.IsZero() {
			a.logger.Warn("skipping commit with unusable timestamp",
				zap.String("sha", event.SHA),
				zap.String("member_id", member.ID))
			continue
		}
		eventDay, hour := calendar.Bucket(event.AuthoredAt, a.loc)
		if eventDay != day {
			// DayBounds and Bucket share the same civil conversion, so a
			// mismatch here means the store returned out-of-range rows.
			a.logger.Warn("commit bucketed outside requested day",
				zap.String("sha", event.SHA),
				zap.String("expected", day.String()),
				zap.String("actual", eventDay.String()))
			continue
		}

		record.CommitCount++
		record.Additions += event.Additions
		record.Deletions += event.Deletions
		record.Hourly[hour]++
		record.Types[ClassifyMessage(event.Message)]++
	}

	return record, nil
}

// RebuildDay recomputes the record and persists it as a full replacement of
// any existing (member, day) row. Rerunning with an unchanged event set
// converges on an identical row regardless of interleaving with other
// writers.
func (a *Aggregator) RebuildDay(ctx context.Context, member members.Member, day calendar.DayKey) (DailyActivityRecord, error) {
	record, err := a.ComputeDay(ctx, member, day)
	if err != nil {
		return DailyActivityRecord{}, err
	}
	record.ComputedAt = a.clock().UTC()

	err = a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}, {Name: "day"}},
			UpdateAll: true,
		}).
		Create(&record).Error
	if err != nil {
		return DailyActivityRecord{}, fmt.Errorf("activity: persist record for %s on %s: %w", member.ID, day, err)
	}
	return record, nil
}

// GetDay returns the stored record for one (member, day) pair, or nil when
// the day has never been computed.
func (a *Aggregator) GetDay(ctx context.Context, memberID string, day calendar.DayKey) (*DailyActivityRecord, error) {
	var record DailyActivityRecord
	err := a.db.WithContext(ctx).
		Where("member_id = ? AND day = ?", memberID, day.String()).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activity: get record for %s on %s: %w", memberID, day, err)
	}
	return &record, nil
}

// ListForMember returns every stored record for the member ordered by day.
func (a *Aggregator) ListForMember(ctx context.Context, memberID string) ([]DailyActivityRecord, error) {
	var records []DailyActivityRecord
	err := a.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("day ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("activity: list records: %w", err)
	}
	return records, nil
}

// ListForMemberRange returns stored records for days in [first, last]
// inclusive, ordered by day.
func (a *Aggregator) ListForMemberRange(ctx context.Context, memberID string, first, last calendar.DayKey) ([]DailyActivityRecord, error) {
	var records []DailyActivityRecord
	err := a.db.WithContext(ctx).
		Where("member_id = ? AND day >= ? AND day <= ?", memberID, first.String(), last.String()).
		Order("day ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("activity: list range: %w", err)
	}
	return records, nil
}

// DeleteForMember removes every record for the member. Only called as part of
// explicit member removal.
func (a *Aggregator) DeleteForMember(ctx context.Context, memberID string) error {
	if err := a.db.WithContext(ctx).Delete(&DailyActivityRecord{}, "member_id = ?", memberID).Error; err != nil {
		return fmt.Errorf("activity: delete records: %w", err)
	}
	return nil
}
