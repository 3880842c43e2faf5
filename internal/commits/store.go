package commits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("commits: database handle is required")

// Store persists and reads commit events.
type Store struct {
	db *gorm.DB
}

// NewStore constructs the event store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// RecordEvents upserts a batch of events keyed by SHA. Re-recording an
// already-seen commit overwrites the row with identical content, so ingestion
// retries are harmless. Returns the distinct author emails seen in the batch.
func (s *Store) RecordEvents(ctx context.Context, events []CommitEvent) ([]string, error) {
	seen := make(map[string]struct{}, len(events))
	authors := make([]string, 0, len(events))

	for _, event := range events {
		if err := event.Validate(); err != nil {
			return nil, err
		}
		event.AuthorEmail = NormalizeEmail(event.AuthorEmail)
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "sha"}},
				UpdateAll: true,
			}).
			Create(&event).Error; err != nil {
			return nil, fmt.Errorf("commits: record event %s: %w", event.SHA, err)
		}
		if _, ok := seen[event.AuthorEmail]; !ok {
			seen[event.AuthorEmail] = struct{}{}
			authors = append(authors, event.AuthorEmail)
		}
	}

	return authors, nil
}

// ListForMemberBetween returns the member's events whose authored-at instant
// falls in the half-open interval [start, end), ordered by time.
func (s *Store) ListForMemberBetween(ctx context.Context, authorEmail string, start, end time.Time) ([]CommitEvent, error) {
	var events []CommitEvent
	err := s.db.WithContext(ctx).
		Where("author_email = ? AND authored_at >= ? AND authored_at < ?", NormalizeEmail(authorEmail), start, end).
		Order("authored_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("commits: list between: %w", err)
	}
	return events, nil
}

// ListForMember returns every event attributed to the member, ordered by time.
func (s *Store) ListForMember(ctx context.Context, authorEmail string) ([]CommitEvent, error) {
	var events []CommitEvent
	err := s.db.WithContext(ctx).
		Where("author_email = ?", NormalizeEmail(authorEmail)).
		Order("authored_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("commits: list for member: %w", err)
	}
	return events, nil
}

// FirstLastForMember returns the earliest and latest authored-at instants for
// the member's events, skipping zero timestamps. ok is false when the member
// has no timestamped events at all.
func (s *Store) FirstLastForMember(ctx context.Context, authorEmail string) (first, last time.Time, ok bool, err error) {
	// Aggregate result columns carry no declared type under the sqlite
	// driver, so MIN/MAX come back as raw strings; scan those and parse.
	var bounds struct {
		First *string
		Last  *string
	}
	err = s.db.WithContext(ctx).
		Model(&CommitEvent{}).
		Select("MIN(authored_at) AS first, MAX(authored_at) AS last").
		Where("author_email = ? AND authored_at > ?", NormalizeEmail(authorEmail), time.Time{}).
		Scan(&bounds).Error
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("commits: first/last: %w", err)
	}
	if bounds.First == nil || bounds.Last == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	first, err = parseStoredTime(*bounds.First)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("commits: first/last: %w", err)
	}
	last, err = parseStoredTime(*bounds.Last)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("commits: first/last: %w", err)
	}
	return first, last, true, nil
}

// parseStoredTime decodes a timestamp string as the sqlite driver stores it.
func parseStoredTime(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}
	var lastErr error
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// CountRepositories returns how many distinct repositories the member has
// committed to. Feeds the repository-count trophy metric.
func (s *Store) CountRepositories(ctx context.Context, authorEmail string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&CommitEvent{}).
		Where("author_email = ?", NormalizeEmail(authorEmail)).
		Distinct("repository").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("commits: count repositories: %w", err)
	}
	return int(count), nil
}
