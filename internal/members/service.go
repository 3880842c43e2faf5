package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies for member management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service reads and writes member identities. Lookups by email are served
// through a read-through cache since the aggregation hot path resolves the
// same handful of members repeatedly.
type Service struct {
	db      *gorm.DB
	now     func() time.Time
	byEmail sync.Map
}

// NewService constructs the member service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("members: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// GetByID returns the member with the given identifier.
func (s *Service) GetByID(ctx context.Context, id MemberID) (Member, error) {
	var member Member
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Member{}, fmt.Errorf("members: get by id: %w", err)
	}
	return member, nil
}

// GetByEmail resolves a member by canonical email.
func (s *Service) GetByEmail(ctx context.Context, email string) (Member, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return Member{}, fmt.Errorf("%w: empty", ErrInvalidEmail)
	}

	if cached, ok := s.byEmail.Load(normalized); ok {
		if member, ok := cached.(Member); ok {
			return member, nil
		}
	}

	var member Member
	err := s.db.WithContext(ctx).Where("email = ?", normalized).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, fmt.Errorf("%w: email %s", ErrNotFound, normalized)
	}
	if err != nil {
		return Member{}, fmt.Errorf("members: get by email: %w", err)
	}

	s.byEmail.Store(normalized, member)
	return member, nil
}

// ListActive returns every member participating in aggregation sweeps.
func (s *Service) ListActive(ctx context.Context) ([]Member, error) {
	var result []Member
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&result).Error; err != nil {
		return nil, fmt.Errorf("members: list active: %w", err)
	}
	return result, nil
}

// Upsert creates the member on first sight of its email and refreshes the
// display name and active flag afterwards. A missing id is minted as UUIDv7.
func (s *Service) Upsert(ctx context.Context, member Member) (Member, error) {
	member.Email = normalizeEmail(member.Email)
	if member.Email == "" {
		return Member{}, fmt.Errorf("%w: empty", ErrInvalidEmail)
	}

	var existing Member
	err := s.db.WithContext(ctx).Where("email = ?", member.Email).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if strings.TrimSpace(member.ID) == "" {
			id, idErr := uuid.NewV7()
			if idErr != nil {
				return Member{}, fmt.Errorf("members: mint id: %w", idErr)
			}
			member.ID = id.String()
		}
		if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
			return Member{}, fmt.Errorf("members: create: %w", err)
		}
		s.byEmail.Store(member.Email, member)
		return member, nil
	}
	if err != nil {
		return Member{}, fmt.Errorf("members: upsert lookup: %w", err)
	}

	existing.DisplayName = member.DisplayName
	existing.Active = member.Active
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return Member{}, fmt.Errorf("members: update: %w", err)
	}
	s.byEmail.Store(existing.Email, existing)
	return existing, nil
}

// Remove deletes the member row. Derived activity and stats rows are removed
// by the caller, which owns those stores.
func (s *Service) Remove(ctx context.Context, id MemberID) error {
	member, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Member{}, "id = ?", member.ID).Error; err != nil {
		return fmt.Errorf("members: remove: %w", err)
	}
	s.byEmail.Delete(member.Email)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
