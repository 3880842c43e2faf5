// Package members manages the canonical member identities the aggregation
// pipeline works against. Mapping free-text commit author strings onto these
// identities is the job of an upstream collaborator; here a member simply owns
// one canonical email.
package members

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidMemberID indicates an empty or oversized member identifier.
	ErrInvalidMemberID = errors.New("members: invalid member id")
	// ErrInvalidEmail indicates an unusable canonical email.
	ErrInvalidEmail = errors.New("members: invalid email")
	// ErrNotFound indicates the requested member does not exist.
	ErrNotFound = errors.New("members: not found")
)

// MemberID is a validated member identifier.
type MemberID string

// NewMemberID validates raw input and returns a MemberID.
func NewMemberID(rawInput string) (MemberID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMemberID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMemberID, maxIdentifierLength)
	}
	return MemberID(trimmed), nil
}

// String returns the underlying identifier.
func (id MemberID) String() string {
	return string(id)
}

// Member is one tracked team member.
type Member struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Active      bool      `gorm:"column:active;not null;default:true;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing members.
func (Member) TableName() string {
	return "members"
}
