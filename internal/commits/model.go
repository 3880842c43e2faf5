// Package commits holds the append-only commit event records handed over by
// the ingestion collaborator. Events are the system's source of truth: every
// derived record must be reproducible by rescanning them.
package commits

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSHA indicates an empty or oversized commit identifier.
	ErrInvalidSHA = errors.New("commits: invalid commit sha")
	// ErrInvalidAuthorEmail indicates an empty author identity.
	ErrInvalidAuthorEmail = errors.New("commits: invalid author email")
)

// CommitEvent is one immutable version-control commit. The author email may be
// re-pointed when identity resolution corrects an association, but the commit
// body never mutates after creation.
type CommitEvent struct {
	SHA          string    `gorm:"column:sha;primaryKey;size:64;not null"`
	Repository   string    `gorm:"column:repository;size:190;not null;index"`
	AuthorEmail  string    `gorm:"column:author_email;size:320;not null;index:idx_commits_author_time,priority:1"`
	AuthoredAt   time.Time `gorm:"column:authored_at;not null;index:idx_commits_author_time,priority:2"`
	Additions    int       `gorm:"column:additions;not null;default:0"`
	Deletions    int       `gorm:"column:deletions;not null;default:0"`
	FilesChanged int       `gorm:"column:files_changed;not null;default:0"`
	Message      string    `gorm:"column:message;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CommitEvent) TableName() string {
	return "commit_events"
}

// Validate checks the fields the aggregation pipeline depends on. A zero
// authored-at timestamp is legal at the storage layer and classified as a data
// error at aggregation time instead.
func (e CommitEvent) Validate() error {
	sha := strings.TrimSpace(e.SHA)
	if sha == "" || len(sha) > maxIdentifierLength {
		return fmt.Errorf("%w: %q", ErrInvalidSHA, e.SHA)
	}
	if strings.TrimSpace(e.AuthorEmail) == "" {
		return fmt.Errorf("%w: commit %s", ErrInvalidAuthorEmail, sha)
	}
	return nil
}

// NormalizeEmail lowercases and trims a canonical author identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
