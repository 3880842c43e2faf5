package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pulsehq/pulse/backend/internal/commits"
	"github.com/pulsehq/pulse/backend/internal/members"
)

func TestApplyMigrationsNormalizesEmails(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&commits.CommitEvent{}, &members.Member{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	event := commits.CommitEvent{
		SHA:         "abc123",
		Repository:  "pulse/backend",
		AuthorEmail: " Dev@Example.COM ",
		AuthoredAt:  time.Date(2026, time.January, 5, 10, 0, 0, 0, time.UTC),
		Message:     "fix: normalize emails",
	}
	if err := database.Create(&event).Error; err != nil {
		testContext.Fatalf("failed to insert event: %v", err)
	}
	member := members.Member{ID: "member-1", Email: "Dev@Example.com", Active: true}
	if err := database.Create(&member).Error; err != nil {
		testContext.Fatalf("failed to insert member: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedEvent commits.CommitEvent
	if err := database.Where("sha = ?", event.SHA).Take(&storedEvent).Error; err != nil {
		testContext.Fatalf("failed to reload event: %v", err)
	}
	if storedEvent.AuthorEmail != "dev@example.com" {
		testContext.Fatalf("expected normalized author email, got %q", storedEvent.AuthorEmail)
	}

	var storedMember members.Member
	if err := database.Where("id = ?", member.ID).Take(&storedMember).Error; err != nil {
		testContext.Fatalf("failed to reload member: %v", err)
	}
	if storedMember.Email != "dev@example.com" {
		testContext.Fatalf("expected normalized member email, got %q", storedMember.Email)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeAuthorEmails).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&commits.CommitEvent{}, &members.Member{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first application failed: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second application failed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one migration record, got %d", count)
	}
}
