// Package query answers range reads over the derived activity caches. Closed
// historical days are served exactly as of their last successful aggregation;
// the still-open current day is never trusted from cache and is recomputed
// live on every read, so reads stay fresh without ever blocking on a running
// aggregation.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse/backend/internal/activity"
	"github.com/pulsehq/pulse/backend/internal/badges"
	"github.com/pulsehq/pulse/backend/internal/cache"
	"github.com/pulsehq/pulse/backend/internal/calendar"
	"github.com/pulsehq/pulse/backend/internal/members"
	"github.com/pulsehq/pulse/backend/internal/stats"
)

// Granularity selects the span a stats read covers.
type Granularity string

const (
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

var (
	errMissingAggregator = errors.New("query: day aggregator is required")
	errMissingRollup     = errors.New("query: stats rollup is required")
	errMissingMembers    = errors.New("query: member directory is required")
	errMissingRepoCounts = errors.New("query: repository counter is required")
	errMissingBadges     = errors.New("query: badge evaluator is required")
	errMissingTrophies   = errors.New("query: tier calculator is required")
	errMissingLocation   = errors.New("query: timezone location is required")

	// ErrInvalidGranularity indicates an unknown granularity value.
	ErrInvalidGranularity = errors.New("query: invalid granularity")
)

// ParseGranularity validates a raw granularity string.
func ParseGranularity(raw string) (Granularity, error) {
	switch Granularity(strings.TrimSpace(raw)) {
	case GranularityWeek:
		return GranularityWeek, nil
	case GranularityMonth:
		return GranularityMonth, nil
	case GranularityYear:
		return GranularityYear, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, raw)
	}
}

// DayAggregator supplies cached rows and live open-day computation.
type DayAggregator interface {
	ComputeDay(ctx context.Context, member members.Member, day calendar.DayKey) (activity.DailyActivityRecord, error)
	ListForMemberRange(ctx context.Context, memberID string, first, last calendar.DayKey) ([]activity.DailyActivityRecord, error)
}

// SnapshotSource reads stored profile snapshots.
type SnapshotSource interface {
	Get(ctx context.Context, memberID string) (stats.ProfileStatsSnapshot, error)
}

// MemberDirectory resolves member identities.
type MemberDirectory interface {
	GetByID(ctx context.Context, id members.MemberID) (members.Member, error)
}

// RepositoryCounter supplies the repository-count trophy metric.
type RepositoryCounter interface {
	CountRepositories(ctx context.Context, authorEmail string) (int, error)
}

// ServiceConfig describes the read service dependencies.
type ServiceConfig struct {
	Aggregator DayAggregator
	Snapshots  SnapshotSource
	Members    MemberDirectory
	RepoCounts RepositoryCounter
	Badges     *badges.Evaluator
	Trophies   *badges.TierCalculator
	Cache      cache.Store
	CacheTTL   time.Duration
	Location   *time.Location
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service serves range, badge and trophy reads.
type Service struct {
	aggregator DayAggregator
	snapshots  SnapshotSource
	members    MemberDirectory
	repoCounts RepositoryCounter
	badges     *badges.Evaluator
	trophies   *badges.TierCalculator
	cache      cache.Store
	cacheTTL   time.Duration
	loc        *time.Location
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the read service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Aggregator == nil {
		return nil, errMissingAggregator
	}
	if cfg.Snapshots == nil {
		return nil, errMissingRollup
	}
	if cfg.Members == nil {
		return nil, errMissingMembers
	}
	if cfg.RepoCounts == nil {
		return nil, errMissingRepoCounts
	}
	if cfg.Badges == nil {
		return nil, errMissingBadges
	}
	if cfg.Trophies == nil {
		return nil, errMissingTrophies
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
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Service{
		aggregator: cfg.Aggregator,
		snapshots:  cfg.Snapshots,
		members:    cfg.Members,
		repoCounts: cfg.RepoCounts,
		badges:     cfg.Badges,
		trophies:   cfg.Trophies,
		cache:      cfg.Cache,
		cacheTTL:   cacheTTL,
		loc:        cfg.Location,
		clock:      clock,
		logger:     logger,
	}, nil
}

// DayStat is one day inside a range response.
type DayStat struct {
	Date        string `json:"date"`
	CommitCount int    `json:"commit_count"`
	Additions   int    `json:"additions"`
	Deletions   int    `json:"deletions"`
	HasActivity bool   `json:"has_activity"`
}

// RangeStats is the range read response: one entry per day of the span plus
// the member's current snapshot.
type RangeStats struct {
	Days     []DayStat                  `json:"days"`
	Snapshot stats.ProfileStatsSnapshot `json:"snapshot"`
}

// GetStats answers a week/month/year read anchored on the given day. A zero
// anchor means "today" in the configured civil timezone; callers must not
// derive their own default from a wall clock.
func (s *Service) GetStats(ctx context.Context, memberID members.MemberID, granularity Granularity, anchor calendar.DayKey) (RangeStats, error) {
	if anchor.IsZero() {
		anchor = calendar.Today(s.clock, s.loc)
	}
	first, last, err := span(granularity, anchor)
	if err != nil {
		return RangeStats{}, err
	}
	return s.getRange(ctx, memberID, string(granularity), first, last)
}

// GetCustomRange answers a read over an explicit inclusive day range.
func (s *Service) GetCustomRange(ctx context.Context, memberID members.MemberID, first, last calendar.DayKey) (RangeStats, error) {
	if last.Before(first) {
		return RangeStats{}, fmt.Errorf("%w: range end precedes start", ErrInvalidGranularity)
	}
	return s.getRange(ctx, memberID, "custom", first, last)
}

func (s *Service) getRange(ctx context.Context, memberID members.MemberID, label string, first, last calendar.DayKey) (RangeStats, error) {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return RangeStats{}, err
	}

	today := calendar.Today(s.clock, s.loc)
	coversToday := !last.Before(today) && !today.Before(first)

	// Only spans that closed before today are cacheable: the open day must
	// be recomputed on every read.
	cacheKey := cache.MemberPrefix(member.ID) + "range:" + label + ":" + first.String() + ":" + last.String()
	if s.cache != nil && !coversToday {
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			var result RangeStats
			if err := json.Unmarshal(cached, &result); err == nil {
				return result, nil
			}
			s.cache.Invalidate(ctx, cacheKey)
		}
	}

	records, err := s.aggregator.ListForMemberRange(ctx, member.ID, first, last)
	if err != nil {
		return RangeStats{}, err
	}
	byDay := make(map[string]activity.DailyActivityRecord, len(records))
	for _, record := range records {
		byDay[record.Day] = record
	}

	if coversToday {
		live, liveErr := s.aggregator.ComputeDay(ctx, member, today)
		if liveErr != nil {
			// Serve the cached row rather than failing the whole read.
			s.logger.Warn("live open-day computation failed",
				zap.String("member_id", member.ID),
				zap.Error(liveErr))
		} else {
			byDay[today.String()] = live
		}
	}

	result := RangeStats{Days: make([]DayStat, 0, 31)}
	for _, day := range calendar.DaysBetween(first, last) {
		record := byDay[day.String()]
		result.Days = append(result.Days, DayStat{
			Date:        day.String(),
			CommitCount: record.CommitCount,
			Additions:   record.Additions,
			Deletions:   record.Deletions,
			HasActivity: record.CommitCount > 0,
		})
	}

	snapshot, err := s.snapshots.Get(ctx, member.ID)
	if err != nil && !errors.Is(err, stats.ErrSnapshotNotFound) {
		return RangeStats{}, err
	}
	snapshot.MemberID = member.ID
	result.Snapshot = snapshot

	if s.cache != nil && !coversToday {
		if encoded, encodeErr := json.Marshal(result); encodeErr == nil {
			s.cache.Set(ctx, cacheKey, encoded, s.cacheTTL)
		}
	}
	return result, nil
}

// Badge is one unlocked badge with display metadata.
type Badge struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// GetBadges returns the member's unlocked badges with their labels.
func (s *Service) GetBadges(ctx context.Context, memberID members.MemberID) ([]Badge, error) {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.Get(ctx, member.ID)
	if errors.Is(err, stats.ErrSnapshotNotFound) {
		return []Badge{}, nil
	}
	if err != nil {
		return nil, err
	}

	labels := make(map[string]string)
	for _, definition := range s.badges.Definitions() {
		labels[definition.ID] = definition.Label
	}

	unlocked := make([]Badge, 0, len(snapshot.Badges))
	for _, id := range snapshot.Badges {
		unlocked = append(unlocked, Badge{ID: id, Label: labels[id]})
	}
	return unlocked, nil
}

// GetTrophies returns the member's ranked trophies.
func (s *Service) GetTrophies(ctx context.Context, memberID members.MemberID) ([]badges.Trophy, error) {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.Get(ctx, member.ID)
	if err != nil && !errors.Is(err, stats.ErrSnapshotNotFound) {
		return nil, err
	}
	repositoryCount, err := s.repoCounts.CountRepositories(ctx, member.Email)
	if err != nil {
		return nil, err
	}
	return s.trophies.Trophies(snapshot, repositoryCount), nil
}

// span resolves a granularity and anchor into an inclusive day range. Weeks
// are Monday-anchored.
func span(granularity Granularity, anchor calendar.DayKey) (calendar.DayKey, calendar.DayKey, error) {
	anchorTime := anchor.Time(time.UTC)
	switch granularity {
	case GranularityWeek:
		offset := (int(anchorTime.Weekday()) + 6) % 7
		first := anchorTime.AddDate(0, 0, -offset)
		last := first.AddDate(0, 0, 6)
		return calendar.NewDayKey(first.Year(), first.Month(), first.Day()),
			calendar.NewDayKey(last.Year(), last.Month(), last.Day()), nil
	case GranularityMonth:
		first := calendar.NewDayKey(anchor.Year, anchor.Month, 1)
		last := calendar.NewDayKey(anchor.Year, anchor.Month+1, 1).Prev()
		return first, last, nil
	case GranularityYear:
		return calendar.NewDayKey(anchor.Year, time.January, 1),
			calendar.NewDayKey(anchor.Year, time.December, 31), nil
	default:
		return calendar.DayKey{}, calendar.DayKey{}, fmt.Errorf("%w: %q", ErrInvalidGranularity, granularity)
	}
}
