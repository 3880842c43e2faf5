package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsehq/pulse/backend/internal/activity"
	"github.com/pulsehq/pulse/backend/internal/calendar"
	"github.com/pulsehq/pulse/backend/internal/members"
)

var (
	errMissingDatabase     = errors.New("stats: database handle is required")
	errMissingRecordSource = errors.New("stats: record source is required")
	errMissingEventBounds  = errors.New("stats: event bounds source is required")
	errMissingEvaluator    = errors.New("stats: badge evaluator is required")
	errMissingLocation     = errors.New("stats: timezone location is required")

	// ErrSnapshotNotFound indicates the member has never been rolled up.
	ErrSnapshotNotFound = errors.New("stats: snapshot not found")
)

// RecordSource provides the daily records a rollup scans.
type RecordSource interface {
	ListForMember(ctx context.Context, memberID string) ([]activity.DailyActivityRecord, error)
}

// EventBounds provides the first/last commit instants for a member.
type EventBounds interface {
	FirstLastForMember(ctx context.Context, authorEmail string) (first, last time.Time, ok bool, err error)
}

// BadgeEvaluator recomputes the unlocked badge set for a snapshot.
type BadgeEvaluator interface {
	Evaluate(snapshot ProfileStatsSnapshot) []string
}

// RollupConfig describes the dependencies of the stats rollup.
type RollupConfig struct {
	Database  *gorm.DB
	Records   RecordSource
	Events    EventBounds
	Badges    BadgeEvaluator
	Location  *time.Location
	Clock     func() time.Time
	Logger    *zap.Logger
	OnAnomaly func(memberID string)
}

// Rollup derives and persists ProfileStatsSnapshots.
type Rollup struct {
	db        *gorm.DB
	records   RecordSource
	events    EventBounds
	badges    BadgeEvaluator
	loc       *time.Location
	clock     func() time.Time
	logger    *zap.Logger
	onAnomaly func(memberID string)
}

// NewRollup constructs the rollup service.
func NewRollup(cfg RollupConfig) (*Rollup, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Records == nil {
		return nil, errMissingRecordSource
	}
	if cfg.Events == nil {
		return nil, errMissingEventBounds
	}
	if cfg.Badges == nil {
		return nil, errMissingEvaluator
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
	onAnomaly := cfg.OnAnomaly
	if onAnomaly == nil {
		onAnomaly = func(string) {}
	}
	return &Rollup{
		db:        cfg.Database,
		records:   cfg.Records,
		events:    cfg.Events,
		badges:    cfg.Badges,
		loc:       cfg.Location,
		clock:     clock,
		logger:    logger,
		onAnomaly: onAnomaly,
	}, nil
}

// Get returns the stored snapshot for the member.
func (r *Rollup) Get(ctx context.Context, memberID string) (ProfileStatsSnapshot, error) {
	var snapshot ProfileStatsSnapshot
	err := r.db.WithContext(ctx).Where("member_id = ?", memberID).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProfileStatsSnapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, memberID)
	}
	if err != nil {
		return ProfileStatsSnapshot{}, fmt.Errorf("stats: get snapshot: %w", err)
	}
	return snapshot, nil
}

// Rebuild scans every daily record the member has and fully replaces the
// snapshot. The badge set is recomputed before persisting.
func (r *Rollup) Rebuild(ctx context.Context, member members.Member) (ProfileStatsSnapshot, error) {
	records, err := r.records.ListForMember(ctx, member.ID)
	if err != nil {
		return ProfileStatsSnapshot{}, fmt.Errorf("stats: rebuild %s: %w", member.ID, err)
	}

	snapshot := r.buildFromRecords(member.ID, records)
	if err := r.attachEventBounds(ctx, member, &snapshot); err != nil {
		return ProfileStatsSnapshot{}, err
	}
	snapshot.Badges = BadgeSet(r.badges.Evaluate(snapshot))

	if err := r.persist(ctx, &snapshot); err != nil {
		return ProfileStatsSnapshot{}, err
	}
	r.verifySumAgainstStore(ctx, member.ID, snapshot)
	return snapshot, nil
}

// ExtendWithDay folds one newly (re)computed day into an existing snapshot
// without rescanning the full record history. Totals and the hourly
// distribution are adjusted by the delta between the previous row and the
// replacement; streaks are recomputed from the active-day keys only. The
// result is identical to a full rebuild over the same record set.
func (r *Rollup) ExtendWithDay(ctx context.Context, member members.Member, previous *activity.DailyActivityRecord, updated activity.DailyActivityRecord) (ProfileStatsSnapshot, error) {
	snapshot, err := r.Get(ctx, member.ID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return r.Rebuild(ctx, member)
	}
	if err != nil {
		return ProfileStatsSnapshot{}, err
	}

	if previous != nil {
		snapshot.TotalCommits -= previous.CommitCount
		snapshot.TotalAdditions -= previous.Additions
		snapshot.TotalDeletions -= previous.Deletions
		if previous.HasActivity() {
			snapshot.ActiveDays--
		}
		for hour, count := range previous.Hourly {
			snapshot.HourlyTotals[hour] -= count
		}
	}

	snapshot.TotalCommits += updated.CommitCount
	snapshot.TotalAdditions += updated.Additions
	snapshot.TotalDeletions += updated.Deletions
	if updated.HasActivity() {
		snapshot.ActiveDays++
	}
	for hour, count := range updated.Hourly {
		snapshot.HourlyTotals[hour] += count
	}
	snapshot.PeakHour = peakHour(snapshot.HourlyTotals)

	activeDays, err := r.activeDayKeys(ctx, member.ID)
	if err != nil {
		return ProfileStatsSnapshot{}, err
	}
	streaks := CalculateStreaks(activeDays, calendar.Today(r.clock, r.loc))
	snapshot.CurrentStreak = streaks.Current
	snapshot.LongestStreak = streaks.Longest

	if err := r.attachEventBounds(ctx, member, &snapshot); err != nil {
		return ProfileStatsSnapshot{}, err
	}
	snapshot.Badges = BadgeSet(r.badges.Evaluate(snapshot))

	if err := r.persist(ctx, &snapshot); err != nil {
		return ProfileStatsSnapshot{}, err
	}
	r.verifySumAgainstStore(ctx, member.ID, snapshot)
	return snapshot, nil
}

// DeleteForMember removes the member's snapshot. Only called as part of
// explicit member removal.
func (r *Rollup) DeleteForMember(ctx context.Context, memberID string) error {
	if err := r.db.WithContext(ctx).Delete(&ProfileStatsSnapshot{}, "member_id = ?", memberID).Error; err != nil {
		return fmt.Errorf("stats: delete snapshot: %w", err)
	}
	return nil
}

func (r *Rollup) buildFromRecords(memberID string, records []activity.DailyActivityRecord) ProfileStatsSnapshot {
	snapshot := ProfileStatsSnapshot{MemberID: memberID, Badges: BadgeSet{}}
	var activeDays []calendar.DayKey

	for _, record := range records {
		snapshot.TotalCommits += record.CommitCount
		snapshot.TotalAdditions += record.Additions
		snapshot.TotalDeletions += record.Deletions
		for hour, count := range record.Hourly {
			snapshot.HourlyTotals[hour] += count
		}
		if record.HasActivity() {
			snapshot.ActiveDays++
			if day, err := calendar.ParseDayKey(record.Day); err == nil {
				activeDays = append(activeDays, day)
			}
		}
	}

	snapshot.PeakHour = peakHour(snapshot.HourlyTotals)
	streaks := CalculateStreaks(activeDays, calendar.Today(r.clock, r.loc))
	snapshot.CurrentStreak = streaks.Current
	snapshot.LongestStreak = streaks.Longest
	return snapshot
}

func (r *Rollup) attachEventBounds(ctx context.Context, member members.Member, snapshot *ProfileStatsSnapshot) error {
	first, last, ok, err := r.events.FirstLastForMember(ctx, member.Email)
	if err != nil {
		return fmt.Errorf("stats: event bounds for %s: %w", member.ID, err)
	}
	if ok {
		snapshot.FirstCommitAt = first.UTC()
		snapshot.LastCommitAt = last.UTC()
	}
	return nil
}

func (r *Rollup) persist(ctx context.Context, snapshot *ProfileStatsSnapshot) error {
	snapshot.ComputedAt = r.clock().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}},
			UpdateAll: true,
		}).
		Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("stats: persist snapshot for %s: %w", snapshot.MemberID, err)
	}
	return nil
}

func (r *Rollup) activeDayKeys(ctx context.Context, memberID string) ([]calendar.DayKey, error) {
	var days []string
	err := r.db.WithContext(ctx).
		Model(&activity.DailyActivityRecord{}).
		Where("member_id = ? AND commit_count > 0", memberID).
		Order("day ASC").
		Pluck("day", &days).Error
	if err != nil {
		return nil, fmt.Errorf("stats: active days: %w", err)
	}
	keys := make([]calendar.DayKey, 0, len(days))
	for _, value := range days {
		key, parseErr := calendar.ParseDayKey(value)
		if parseErr != nil {
			r.logger.Warn("skipping malformed day key", zap.String("member_id", memberID), zap.String("day", value))
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// verifySumAgainstStore checks the invariant that the snapshot total equals
// the stored sum of daily commit counts, re-read after persisting so a row
// changed underneath the rollup is caught. Violations are logged and counted,
// never served as errors: the snapshot stays available and a full-mode
// aggregation is the remediation path.
func (r *Rollup) verifySumAgainstStore(ctx context.Context, memberID string, snapshot ProfileStatsSnapshot) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&activity.DailyActivityRecord{}).
		Where("member_id = ?", memberID).
		Select("COALESCE(SUM(commit_count), 0)").
		Scan(&sum).Error
	if err != nil {
		r.logger.Warn("sum invariant check skipped", zap.String("member_id", memberID), zap.Error(err))
		return
	}
	if int(sum) != snapshot.TotalCommits {
		r.onAnomaly(memberID)
		r.logger.Error("snapshot sum invariant violated",
			zap.String("member_id", memberID),
			zap.Int64("daily_sum", sum),
			zap.Int("snapshot_total", snapshot.TotalCommits))
	}
}

func peakHour(totals activity.HourlyVector) int {
	peak := 0
	for hour := 1; hour < len(totals); hour++ {
		if totals[hour] > totals[peak] {
			peak = hour
		}
	}
	return peak
}
