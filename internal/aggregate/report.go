// Package aggregate drives derived-record recomputation at three
// granularities: one member, a date range across all active members, and a
// full sweep. Every unit of work is isolated, so one member's or one day's
// failure never aborts the rest of a batch.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the aggregation granularity.
type Mode string

const (
	// ModeMember rebuilds every day and the snapshot for one member.
	ModeMember Mode = "member"
	// ModeDateRange recomputes each day in an inclusive range for every
	// active member.
	ModeDateRange Mode = "date-range"
	// ModeFull runs a member-mode rebuild for every active member.
	ModeFull Mode = "full"
)

// ErrInvalidMode indicates an unknown aggregation mode.
var ErrInvalidMode = errors.New("aggregate: invalid mode")

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.TrimSpace(raw)) {
	case ModeMember:
		return ModeMember, nil
	case ModeDateRange:
		return ModeDateRange, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// FailureClass categorizes a failed unit for selective retry.
type FailureClass string

const (
	// FailureData marks unusable source data (skipped events are logged, a
	// data failure means the whole unit could not be derived).
	FailureData FailureClass = "data"
	// FailureDependency marks a collaborator lookup that failed mid-batch.
	FailureDependency FailureClass = "dependency"
	// FailureInternal marks everything else.
	FailureInternal FailureClass = "internal"
)

// Failure records one failed unit of work.
type Failure struct {
	Unit   string       `json:"unit"`
	Class  FailureClass `json:"class"`
	Reason string       `json:"reason"`
}

// Report summarizes one aggregation run so callers can selectively retry.
// Remaining counts units that were never processed because the run's time
// budget expired.
type Report struct {
	RunID     string    `json:"run_id"`
	Mode      Mode      `json:"mode"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Remaining int       `json:"remaining"`
	Failures  []Failure `json:"failures"`
}
