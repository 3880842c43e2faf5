package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse/backend/internal/activity"
	"github.com/pulsehq/pulse/backend/internal/cache"
	"github.com/pulsehq/pulse/backend/internal/calendar"
	"github.com/pulsehq/pulse/backend/internal/commits"
	"github.com/pulsehq/pulse/backend/internal/members"
	"github.com/pulsehq/pulse/backend/internal/metrics"
	"github.com/pulsehq/pulse/backend/internal/stats"
)

const maxRangeDays = 366

var (
	errMissingMembers    = errors.New("aggregate: member directory is required")
	errMissingAggregator = errors.New("aggregate: day aggregator is required")
	errMissingRollup     = errors.New("aggregate: stats rollup is required")
	errMissingEvents     = errors.New("aggregate: event source is required")
	errMissingLocation   = errors.New("aggregate: timezone location is required")

	// ErrInvalidRequest indicates a request whose scope does not match its
	// mode.
	ErrInvalidRequest = errors.New("aggregate: invalid request")
)

// MemberDirectory resolves the members a run covers.
type MemberDirectory interface {
	GetByID(ctx context.Context, id members.MemberID) (members.Member, error)
	ListActive(ctx context.Context) ([]members.Member, error)
}

// DayAggregator recomputes and reads daily records.
type DayAggregator interface {
	RebuildDay(ctx context.Context, member members.Member, day calendar.DayKey) (activity.DailyActivityRecord, error)
	GetDay(ctx context.Context, memberID string, day calendar.DayKey) (*activity.DailyActivityRecord, error)
	ListForMember(ctx context.Context, memberID string) ([]activity.DailyActivityRecord, error)
}

// SnapshotRollup rebuilds or extends profile snapshots.
type SnapshotRollup interface {
	Rebuild(ctx context.Context, member members.Member) (stats.ProfileStatsSnapshot, error)
	ExtendWithDay(ctx context.Context, member members.Member, previous *activity.DailyActivityRecord, updated activity.DailyActivityRecord) (stats.ProfileStatsSnapshot, error)
}

// EventLister enumerates a member's commit events so member mode can find the
// days that need recomputing.
type EventLister interface {
	ListForMember(ctx context.Context, authorEmail string) ([]commits.CommitEvent, error)
}

// Request describes one aggregation trigger.
type Request struct {
	Mode     Mode
	MemberID members.MemberID
	From     calendar.DayKey
	To       calendar.DayKey
}

// OrchestratorConfig describes the orchestrator's dependencies.
type OrchestratorConfig struct {
	Members     MemberDirectory
	Aggregator  DayAggregator
	Rollup      SnapshotRollup
	Events      EventLister
	Cache       cache.Store
	Location    *time.Location
	Clock       func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Set
	Parallelism int
}

// Orchestrator runs aggregation batches.
type Orchestrator struct {
	members     MemberDirectory
	aggregator  DayAggregator
	rollup      SnapshotRollup
	events      EventLister
	cache       cache.Store
	loc         *time.Location
	clock       func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Set
	parallelism int
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Members == nil {
		return nil, errMissingMembers
	}
	if cfg.Aggregator == nil {
		return nil, errMissingAggregator
	}
	if cfg.Rollup == nil {
		return nil, errMissingRollup
	}
	if cfg.Events == nil {
		return nil, errMissingEvents
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
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 4
	}
	return &Orchestrator{
		members:     cfg.Members,
		aggregator:  cfg.Aggregator,
		rollup:      cfg.Rollup,
		events:      cfg.Events,
		cache:       cfg.Cache,
		loc:         cfg.Location,
		clock:       clock,
		logger:      logger,
		metrics:     cfg.Metrics,
		parallelism: parallelism,
	}, nil
}

// Run executes one aggregation request and reports the outcome. Unit failures
// are recorded in the report instead of aborting the batch; the error return
// covers only request-level problems (bad scope, member listing failed).
func (o *Orchestrator) Run(ctx context.Context, request Request) (Report, error) {
	runID := uuid.NewString()
	report := Report{RunID: runID, Mode: request.Mode}
	started := o.clock()

	o.logger.Info("aggregation run starting",
		zap.String("run_id", runID),
		zap.String("mode", string(request.Mode)))
	if o.metrics != nil {
		o.metrics.RunsTotal.WithLabelValues(string(request.Mode)).Inc()
	}

	var err error
	switch request.Mode {
	case ModeMember:
		err = o.runMember(ctx, request, &report)
	case ModeDateRange:
		err = o.runDateRange(ctx, request, &report)
	case ModeFull:
		err = o.runFull(ctx, &report)
	default:
		err = fmt.Errorf("%w: %q", ErrInvalidMode, request.Mode)
	}
	if err != nil {
		return Report{}, err
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Unit < report.Failures[j].Unit
	})
	if o.metrics != nil {
		o.metrics.RunDurationSeconds.WithLabelValues(string(request.Mode)).
			Observe(o.clock().Sub(started).Seconds())
	}
	o.logger.Info("aggregation run finished",
		zap.String("run_id", runID),
		zap.String("mode", string(request.Mode)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("remaining", report.Remaining))
	return report, nil
}

// runMember rebuilds every relevant day for one member, then the snapshot.
// The day set is the union of days carrying events and days already holding
// records, so a day whose events were re-attributed elsewhere converges to an
// explicit zero record instead of keeping stale counts.
func (o *Orchestrator) runMember(ctx context.Context, request Request, report *Report) error {
	if request.MemberID.String() == "" {
		return fmt.Errorf("%w: member mode requires member_id", ErrInvalidRequest)
	}
	member, err := o.members.GetByID(ctx, request.MemberID)
	if err != nil {
		return err
	}
	o.rebuildMember(ctx, member, report)
	return nil
}

func (o *Orchestrator) runDateRange(ctx context.Context, request Request, report *Report) error {
	if request.From.IsZero() || request.To.IsZero() {
		return fmt.Errorf("%w: date-range mode requires from and to", ErrInvalidRequest)
	}
	days := calendar.DaysBetween(request.From, request.To)
	if days == nil {
		return fmt.Errorf("%w: to precedes from", ErrInvalidRequest)
	}
	if len(days) > maxRangeDays {
		return fmt.Errorf("%w: range exceeds %d days", ErrInvalidRequest, maxRangeDays)
	}

	activeMembers, err := o.members.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: list active members: %w", err)
	}

	o.forEachMember(ctx, activeMembers, len(days), report, func(memberCtx context.Context, member members.Member, memberReport *memberOutcome) {
		// Days for one member run sequentially: each extend folds the
		// previous day's replacement into the snapshot exactly.
		for _, day := range days {
			if memberCtx.Err() != nil {
				memberReport.remaining += 1
				continue
			}
			o.rebuildMemberDay(memberCtx, member, day, memberReport)
		}
	})
	return nil
}

func (o *Orchestrator) runFull(ctx context.Context, report *Report) error {
	activeMembers, err := o.members.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: list active members: %w", err)
	}
	o.forEachMember(ctx, activeMembers, 1, report, func(memberCtx context.Context, member members.Member, memberReport *memberOutcome) {
		if memberCtx.Err() != nil {
			memberReport.remaining += 1
			return
		}
		memberScoped := Report{}
		o.rebuildMember(memberCtx, member, &memberScoped)
		memberReport.succeeded += memberScoped.Succeeded
		memberReport.failed += memberScoped.Failed
		memberReport.remaining += memberScoped.Remaining
		memberReport.failures = append(memberReport.failures, memberScoped.Failures...)
	})
	return nil
}

// memberOutcome accumulates one member's unit results before they are merged
// into the shared report under a single lock acquisition.
type memberOutcome struct {
	succeeded int
	failed    int
	remaining int
	failures  []Failure
}

// forEachMember fans members out over the bounded worker pool. unitsPerMember
// sizes the Remaining count for members never started before the run budget
// expired.
func (o *Orchestrator) forEachMember(ctx context.Context, activeMembers []members.Member, unitsPerMember int, report *Report, work func(context.Context, members.Member, *memberOutcome)) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	slots := make(chan struct{}, o.parallelism)

	for _, member := range activeMembers {
		if ctx.Err() != nil {
			mu.Lock()
			report.Remaining += unitsPerMember
			mu.Unlock()
			continue
		}

		wg.Add(1)
		slots <- struct{}{}
		go func(member members.Member) {
			defer wg.Done()
			defer func() { <-slots }()

			outcome := &memberOutcome{}
			work(ctx, member, outcome)
			o.invalidateMember(ctx, member.ID)

			mu.Lock()
			report.Succeeded += outcome.succeeded
			report.Failed += outcome.failed
			report.Remaining += outcome.remaining
			report.Failures = append(report.Failures, outcome.failures...)
			mu.Unlock()
		}(member)
	}
	wg.Wait()
}

// rebuildMember is the member-mode unit: all relevant days plus a snapshot
// rebuild, reported as one unit per day plus one for the rollup.
func (o *Orchestrator) rebuildMember(ctx context.Context, member members.Member, report *Report) {
	days, err := o.memberDays(ctx, member)
	if err != nil {
		o.recordFailure(report, unitMember(member.ID), classify(err), err)
		return
	}

	for _, day := range days {
		if ctx.Err() != nil {
			report.Remaining++
			continue
		}
		if _, err := o.aggregator.RebuildDay(ctx, member, day); err != nil {
			o.recordFailure(report, unitMemberDay(member.ID, day), classify(err), err)
			continue
		}
		o.recordSuccess(report)
	}

	if ctx.Err() != nil {
		report.Remaining++
		return
	}
	if _, err := o.rollup.Rebuild(ctx, member); err != nil {
		o.recordFailure(report, unitMember(member.ID), classify(err), err)
		return
	}
	o.recordSuccess(report)
	o.invalidateMember(ctx, member.ID)
}

// rebuildMemberDay is the date-range unit: one day's full replacement plus an
// incremental snapshot extend.
func (o *Orchestrator) rebuildMemberDay(ctx context.Context, member members.Member, day calendar.DayKey, outcome *memberOutcome) {
	previous, err := o.aggregator.GetDay(ctx, member.ID, day)
	if err != nil {
		o.recordOutcomeFailure(outcome, unitMemberDay(member.ID, day), err)
		return
	}
	updated, err := o.aggregator.RebuildDay(ctx, member, day)
	if err != nil {
		o.recordOutcomeFailure(outcome, unitMemberDay(member.ID, day), err)
		return
	}
	if _, err := o.rollup.ExtendWithDay(ctx, member, previous, updated); err != nil {
		o.recordOutcomeFailure(outcome, unitMemberDay(member.ID, day), err)
		return
	}
	outcome.succeeded++
	if o.metrics != nil {
		o.metrics.UnitsTotal.WithLabelValues("succeeded").Inc()
	}
}

// memberDays returns the union of days with events and days with existing
// records, sorted ascending.
func (o *Orchestrator) memberDays(ctx context.Context, member members.Member) ([]calendar.DayKey, error) {
	events, err := o.events.ListForMember(ctx, member.Email)
	if err != nil {
		return nil, fmt.Errorf("aggregate: list events for %s: %w", member.ID, err)
	}
	records, err := o.aggregator.ListForMember(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("aggregate: list records for %s: %w", member.ID, err)
	}

	seen := make(map[calendar.DayKey]struct{})
	var days []calendar.DayKey
	add := func(day calendar.DayKey) {
		if _, dup := seen[day]; dup {
			return
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}

	for _, event := range events {
		if event.AuthoredAt.IsZero() {
			continue
		}
		day, _ := calendar.Bucket(event.AuthoredAt, o.loc)
		add(day)
	}
	for _, record := range records {
		day, parseErr := calendar.ParseDayKey(record.Day)
		if parseErr != nil {
			continue
		}
		add(day)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

func (o *Orchestrator) invalidateMember(ctx context.Context, memberID string) {
	if o.cache == nil {
		return
	}
	o.cache.Invalidate(ctx, cache.MemberPrefix(memberID))
}

func (o *Orchestrator) recordSuccess(report *Report) {
	report.Succeeded++
	if o.metrics != nil {
		o.metrics.UnitsTotal.WithLabelValues("succeeded").Inc()
	}
}

func (o *Orchestrator) recordFailure(report *Report, unit string, class FailureClass, err error) {
	report.Failed++
	report.Failures = append(report.Failures, Failure{Unit: unit, Class: class, Reason: err.Error()})
	if o.metrics != nil {
		o.metrics.UnitsTotal.WithLabelValues("failed").Inc()
	}
	o.logger.Warn("aggregation unit failed",
		zap.String("unit", unit),
		zap.String("class", string(class)),
		zap.Error(err))
}

func (o *Orchestrator) recordOutcomeFailure(outcome *memberOutcome, unit string, err error) {
	outcome.failed++
	outcome.failures = append(outcome.failures, Failure{Unit: unit, Class: classify(err), Reason: err.Error()})
	if o.metrics != nil {
		o.metrics.UnitsTotal.WithLabelValues("failed").Inc()
	}
	o.logger.Warn("aggregation unit failed",
		zap.String("unit", unit),
		zap.String("class", string(classify(err))),
		zap.Error(err))
}

func classify(err error) FailureClass {
	switch {
	case errors.Is(err, members.ErrNotFound):
		return FailureDependency
	case errors.Is(err, commits.ErrInvalidSHA), errors.Is(err, commits.ErrInvalidAuthorEmail):
		return FailureData
	case errors.Is(err, calendar.ErrInvalidDayKey):
		return FailureData
	default:
		return FailureInternal
	}
}

func unitMember(memberID string) string {
	return "member:" + memberID
}

func unitMemberDay(memberID string, day calendar.DayKey) string {
	return "member:" + memberID + ":day:" + day.String()
}
