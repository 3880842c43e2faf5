package members

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:members_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Member{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestUpsertCreatesMemberWithMintedID(t *testing.T) {
	service := newTestService(t)

	member, err := service.Upsert(context.Background(), Member{
		Email:       "Dev@Example.COM ",
		DisplayName: "Dev One",
		Active:      true,
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if member.ID == "" {
		t.Fatalf("expected a minted identifier")
	}
	if member.Email != "dev@example.com" {
		t.Fatalf("email should be normalized, got %q", member.Email)
	}

	fetched, err := service.GetByEmail(context.Background(), "dev@example.com")
	if err != nil {
		t.Fatalf("get by email failed: %v", err)
	}
	if fetched.ID != member.ID {
		t.Fatalf("expected the same member, got %q vs %q", fetched.ID, member.ID)
	}
}

func TestUpsertUpdatesExistingMember(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.Upsert(ctx, Member{Email: "dev@example.com", DisplayName: "Old Name", Active: true})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := service.Upsert(ctx, Member{Email: "dev@example.com", DisplayName: "New Name", Active: false})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if updated.ID != created.ID {
		t.Fatalf("updates must not mint a new id: %q vs %q", updated.ID, created.ID)
	}
	if updated.DisplayName != "New Name" || updated.Active {
		t.Fatalf("unexpected updated member: %+v", updated)
	}

	active, err := service.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("deactivated member must not be listed, got %v", active)
	}
}

func TestUpsertRejectsEmptyEmail(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Upsert(context.Background(), Member{Email: "   "}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	service := newTestService(t)

	_, err := service.GetByID(context.Background(), MemberID("ghost"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestRemoveDropsMemberAndEmailCache(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	member, err := service.Upsert(ctx, Member{Email: "dev@example.com", Active: true})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Warm the email cache.
	if _, err := service.GetByEmail(ctx, member.Email); err != nil {
		t.Fatalf("warm lookup failed: %v", err)
	}

	memberID, err := NewMemberID(member.ID)
	if err != nil {
		t.Fatalf("unexpected id error: %v", err)
	}
	if err := service.Remove(ctx, memberID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, err := service.GetByID(ctx, memberID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found after removal, got %v", err)
	}
	if _, err := service.GetByEmail(ctx, member.Email); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cached email lookup must miss after removal, got %v", err)
	}
}

func TestNewMemberID(t *testing.T) {
	if _, err := NewMemberID("  "); !errors.Is(err, ErrInvalidMemberID) {
		t.Fatalf("expected invalid member id")
	}
	id, err := NewMemberID(" member-1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "member-1" {
		t.Fatalf("expected trimmed id, got %q", id)
	}
}
