// Package badges evaluates achievement badges and trophy tiers from a
// member's stats snapshot. Both derivations are pure: they are recomputed in
// full every time a snapshot is rebuilt and never patched incrementally.
package badges

import (
	"sort"

	"github.com/pulsehq/pulse/backend/internal/stats"
)

// Metric names a snapshot field badges and trophies can measure.
type Metric string

const (
	MetricTotalCommits    Metric = "total_commits"
	MetricLongestStreak   Metric = "longest_streak"
	MetricActiveDays      Metric = "active_days"
	MetricAdditions       Metric = "additions"
	MetricDeletions       Metric = "deletions"
	MetricRepositoryCount Metric = "repository_count"
)

// Definition is one badge: unlocked when the metric value reaches the
// threshold.
type Definition struct {
	ID        string `yaml:"id"`
	Label     string `yaml:"label"`
	Metric    Metric `yaml:"metric"`
	Threshold int    `yaml:"threshold"`
}

// Evaluator holds the loaded badge definitions.
type Evaluator struct {
	definitions []Definition
}

// NewEvaluator constructs an evaluator over the given definitions.
func NewEvaluator(definitions []Definition) *Evaluator {
	return &Evaluator{definitions: definitions}
}

// Definitions returns the loaded badge definitions.
func (e *Evaluator) Definitions() []Definition {
	return e.definitions
}

// Evaluate returns the sorted identifiers of every badge whose threshold the
// snapshot meets. The repository-count metric is not available on a snapshot,
// so repository badges never unlock here; they are a trophy-only metric.
func (e *Evaluator) Evaluate(snapshot stats.ProfileStatsSnapshot) []string {
	var unlocked []string
	for _, definition := range e.definitions {
		value, ok := snapshotValue(snapshot, definition.Metric)
		if !ok {
			continue
		}
		if value >= definition.Threshold {
			unlocked = append(unlocked, definition.ID)
		}
	}
	sort.Strings(unlocked)
	return unlocked
}

func snapshotValue(snapshot stats.ProfileStatsSnapshot, metric Metric) (int, bool) {
	switch metric {
	case MetricTotalCommits:
		return snapshot.TotalCommits, true
	case MetricLongestStreak:
		return snapshot.LongestStreak, true
	case MetricActiveDays:
		return snapshot.ActiveDays, true
	case MetricAdditions:
		return snapshot.TotalAdditions, true
	case MetricDeletions:
		return snapshot.TotalDeletions, true
	default:
		return 0, false
	}
}
