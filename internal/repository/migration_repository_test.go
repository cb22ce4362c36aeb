package repository

import (
	"context"
	"testing"

	"esign-trust-service/internal/domain"
)

func TestMigrationRepository_AppliedHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewMigrationRepository(setupTestDB(t))

	// 既に存在していても失敗しない
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	applied, err := repo.FindAllApplied(ctx)
	if err != nil {
		t.Fatalf("FindAllApplied failed: %v", err)
	}
	want := []string{"001", "002", "003", "004"}
	if len(applied) != len(want) {
		t.Fatalf("want %d applied migrations, got %d", len(want), len(applied))
	}
	for i, m := range applied {
		if m.Version != want[i] {
			t.Errorf("applied[%d]: want version %s, got %s", i, want[i], m.Version)
		}
		if m.Status != domain.MigrationStatusApplied || m.AppliedAt == nil {
			t.Errorf("applied[%d]: want applied status with timestamp, got %+v", i, m)
		}
	}

	ok, err := repo.IsMigrationApplied(ctx, "003")
	if err != nil {
		t.Fatalf("IsMigrationApplied failed: %v", err)
	}
	if !ok {
		t.Error("want 003 applied")
	}
	ok, err = repo.IsMigrationApplied(ctx, "999")
	if err != nil {
		t.Fatalf("IsMigrationApplied failed: %v", err)
	}
	if ok {
		t.Error("want 999 not applied")
	}
}
