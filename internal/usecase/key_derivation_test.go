package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"esign-trust-service/internal/domain"
)

func TestKeyDerivation_DeriveKey_Deterministic(t *testing.T) {
	a := NewKeyDerivation(testMasterKey, "v1", newMapCache(), nil)
	b := NewKeyDerivation(testMasterKey, "v1", nil, nil)

	k1, err := a.DeriveKey(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := b.DeriveKey(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(k1) != domain.DEKSize {
		t.Errorf("want %d byte key, got %d", domain.DEKSize, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("want identical keys from identical inputs")
	}
}

func TestKeyDerivation_DeriveKey_TenantIsolation(t *testing.T) {
	kd := NewKeyDerivation(testMasterKey, "v1", nil, nil)
	ctx := context.Background()

	a, _ := kd.DeriveKey(ctx, "tenant-a")
	b, _ := kd.DeriveKey(ctx, "tenant-b")
	if bytes.Equal(a, b) {
		t.Error("want different keys for different tenants")
	}

	// 区切り文字を含むIDが別テナントの info と衝突しないこと
	c, _ := kd.DeriveKey(ctx, "a|v1")
	d, _ := NewKeyDerivation(testMasterKey, "v1|v1", nil, nil).DeriveKey(ctx, "a")
	if bytes.Equal(c, d) {
		t.Error("want length-prefixed tenant id to separate info strings")
	}
}

func TestKeyDerivation_DeriveKey_VersionChangesKey(t *testing.T) {
	ctx := context.Background()
	v1, _ := NewKeyDerivation(testMasterKey, "v1", nil, nil).DeriveKey(ctx, "tenant-a")
	v2, _ := NewKeyDerivation(testMasterKey, "v2", nil, nil).DeriveKey(ctx, "tenant-a")
	if bytes.Equal(v1, v2) {
		t.Error("want key version to change the derived key")
	}
}

func TestKeyDerivation_DeriveKey_Errors(t *testing.T) {
	tests := []struct {
		name      string
		masterKey []byte
		tenantID  string
		want      error
	}{
		{"missing master key", nil, "tenant-a", domain.ErrConfiguration},
		{"short master key", []byte("short"), "tenant-a", domain.ErrConfiguration},
		{"missing tenant", testMasterKey, "", domain.ErrTenantContextMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kd := NewKeyDerivation(tt.masterKey, "v1", nil, nil)
			_, err := kd.DeriveKey(context.Background(), tt.tenantID)
			if !errors.Is(err, tt.want) {
				t.Errorf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestKeyDerivation_DeriveKey_ReturnsCopy(t *testing.T) {
	kd := NewKeyDerivation(testMasterKey, "v1", newMapCache(), nil)
	ctx := context.Background()
	k1, _ := kd.DeriveKey(ctx, "tenant-a")
	for i := range k1 {
		k1[i] = 0
	}
	k2, _ := kd.DeriveKey(ctx, "tenant-a")
	if bytes.Equal(k1, k2) {
		t.Error("want cached key unaffected by caller mutation")
	}
}

func TestKeyDerivation_Generations(t *testing.T) {
	ctx := context.Background()
	repo := &memoryKeyRepository{}
	kd := NewKeyDerivation(testMasterKey, "v1", newMapCache(), repo)

	gen1, _ := kd.DeriveKey(ctx, "tenant-a")
	if want, _ := kd.DeriveKeyForGeneration("tenant-a", 1); !bytes.Equal(gen1, want) {
		t.Fatal("want implicit generation 1 for tenant without records")
	}

	_ = repo.Create(ctx, &domain.TenantKey{TenantID: "tenant-a", Generation: 1, Status: domain.KeyStatusActive})
	_ = repo.Create(ctx, &domain.TenantKey{TenantID: "tenant-a", Generation: 2, Status: domain.KeyStatusActive})

	// キャッシュが残っている間は旧世代のまま
	cached, _ := kd.DeriveKey(ctx, "tenant-a")
	if !bytes.Equal(cached, gen1) {
		t.Error("want cached generation before invalidate")
	}

	kd.Invalidate("tenant-a")
	current, _ := kd.DeriveKey(ctx, "tenant-a")
	gen2, _ := kd.DeriveKeyForGeneration("tenant-a", 2)
	if !bytes.Equal(current, gen2) {
		t.Error("want generation 2 after invalidate")
	}

	keys, err := kd.DecryptionKeys(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 || !bytes.Equal(keys[0], gen2) || !bytes.Equal(keys[1], gen1) {
		t.Error("want decryption keys ordered newest first")
	}
}

func TestKeyDerivation_AllGenerationsDisabled(t *testing.T) {
	ctx := context.Background()
	repo := &memoryKeyRepository{}
	_ = repo.Create(ctx, &domain.TenantKey{TenantID: "tenant-a", Generation: 1, Status: domain.KeyStatusDisabled})
	kd := NewKeyDerivation(testMasterKey, "v1", nil, repo)

	if _, err := kd.DeriveKey(ctx, "tenant-a"); !errors.Is(err, domain.ErrKeyDisabled) {
		t.Errorf("want ErrKeyDisabled, got %v", err)
	}
}

func TestKeyDerivation_ConcurrentDerive(t *testing.T) {
	kd := NewKeyDerivation(testMasterKey, "v1", newMapCache(), nil)
	want, _ := NewKeyDerivation(testMasterKey, "v1", nil, nil).DeriveKey(context.Background(), "tenant-a")

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := kd.DeriveKey(context.Background(), "tenant-a")
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(k, want) {
				errs <- errors.New("key mismatch")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
