package usecase

import (
	"context"
	"errors"
	"testing"

	"esign-trust-service/internal/domain"
)

// countingInvalidator は Invalidate の呼び出しを数える。
type countingInvalidator struct {
	calls map[string]int
}

func (c *countingInvalidator) Invalidate(tenantID string) {
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[tenantID]++
}

func newTestKeyService() (*KeyService, *memoryKeyRepository, *countingInvalidator, *memoryAuditRepository) {
	repo := &memoryKeyRepository{}
	inv := &countingInvalidator{}
	audit, auditDB := newTestAuditLog(newFakeClock())
	return NewKeyService(repo, inv, audit), repo, inv, auditDB
}

func TestKeyService_CreateKey_Success(t *testing.T) {
	svc, _, inv, auditDB := newTestKeyService()

	metadata, err := svc.CreateKey(context.Background(), "tenant-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metadata.TenantID != "tenant-001" {
		t.Errorf("want tenant_id tenant-001, got %s", metadata.TenantID)
	}
	if metadata.Generation != 1 {
		t.Errorf("want generation 1, got %d", metadata.Generation)
	}
	if metadata.Status != domain.KeyStatusActive {
		t.Errorf("want status active, got %s", metadata.Status)
	}
	if inv.calls["tenant-001"] != 1 {
		t.Errorf("want cache invalidated once, got %d", inv.calls["tenant-001"])
	}
	if events := auditDB.events("tenant-001"); len(events) != 1 || events[0] != domain.EventKeyCreated {
		t.Errorf("want key.created audited, got %v", events)
	}
}

func TestKeyService_CreateKey_AlreadyExists(t *testing.T) {
	svc, _, _, _ := newTestKeyService()
	_, _ = svc.CreateKey(context.Background(), "tenant-001")

	_, err := svc.CreateKey(context.Background(), "tenant-001")
	if !errors.Is(err, domain.ErrKeyAlreadyExists) {
		t.Errorf("want ErrKeyAlreadyExists, got %v", err)
	}
}

func TestKeyService_InvalidTenantID(t *testing.T) {
	svc, _, _, _ := newTestKeyService()
	for _, id := range []string{"", "-leading", "has space", "slash/id"} {
		if _, err := svc.CreateKey(context.Background(), id); !errors.Is(err, domain.ErrInvalidTenantID) {
			t.Errorf("%q: want ErrInvalidTenantID, got %v", id, err)
		}
	}
}

func TestKeyService_RotateKey(t *testing.T) {
	svc, repo, inv, _ := newTestKeyService()
	ctx := context.Background()

	// 世代レコードが無くても暗黙の第1世代から進める
	metadata, err := svc.RotateKey(ctx, "tenant-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metadata.Generation != 2 {
		t.Errorf("want generation 2, got %d", metadata.Generation)
	}
	keys, _ := repo.FindAllByTenantID(ctx, "tenant-001")
	if len(keys) != 2 || keys[0].Generation != 1 {
		t.Errorf("want implicit generation 1 materialized, got %d keys", len(keys))
	}

	metadata, _ = svc.RotateKey(ctx, "tenant-001")
	if metadata.Generation != 3 {
		t.Errorf("want generation 3, got %d", metadata.Generation)
	}
	if inv.calls["tenant-001"] != 2 {
		t.Errorf("want 2 invalidations, got %d", inv.calls["tenant-001"])
	}
}

func TestKeyService_ListKeys(t *testing.T) {
	svc, _, _, _ := newTestKeyService()
	ctx := context.Background()
	_, _ = svc.CreateKey(ctx, "tenant-001")
	_, _ = svc.RotateKey(ctx, "tenant-001")

	list, err := svc.ListKeys(ctx, "tenant-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[1].Generation != 2 {
		t.Errorf("want 2 generations in order, got %+v", list)
	}
}

func TestKeyService_DisableKey(t *testing.T) {
	svc, repo, _, auditDB := newTestKeyService()
	ctx := context.Background()
	_, _ = svc.CreateKey(ctx, "tenant-001")

	if err := svc.DisableKey(ctx, "tenant-001", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key, _ := repo.FindByTenantIDAndGeneration(ctx, "tenant-001", 1)
	if key.Status != domain.KeyStatusDisabled {
		t.Errorf("want disabled, got %s", key.Status)
	}
	events := auditDB.events("tenant-001")
	if events[len(events)-1] != domain.EventKeyDisabled {
		t.Errorf("want key.disabled audited, got %v", events)
	}

	if err := svc.DisableKey(ctx, "tenant-001", 1); !errors.Is(err, domain.ErrKeyAlreadyDisabled) {
		t.Errorf("want ErrKeyAlreadyDisabled, got %v", err)
	}
	if err := svc.DisableKey(ctx, "tenant-001", 9); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound, got %v", err)
	}
	if err := svc.DisableKey(ctx, "tenant-001", 0); !errors.Is(err, domain.ErrInvalidGeneration) {
		t.Errorf("want ErrInvalidGeneration, got %v", err)
	}
}
