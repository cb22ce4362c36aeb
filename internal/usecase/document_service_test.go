package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"esign-trust-service/internal/domain"
)

func newTestDocumentService() (*DocumentService, *memoryDocumentRepository, *memoryAuditRepository) {
	audit, auditDB := newTestAuditLog(newFakeClock())
	repo := newMemoryDocumentRepository()
	cipher := NewEnvelopeCipher(NewKeyDerivation(testMasterKey, "v1", newMapCache(), nil))
	return NewDocumentService(repo, cipher, audit), repo, auditDB
}

func TestDocumentService_StoreLoad(t *testing.T) {
	svc, repo, auditDB := newTestDocumentService()
	ctx := context.Background()
	content := []byte("contract body")

	doc, err := svc.Store(ctx, "tenant-a", "doc-1", "process-1", content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ContentHash != ContentHash(content) || doc.Size != int64(len(content)) {
		t.Errorf("unexpected document metadata: %+v", doc)
	}
	stored, _ := repo.FindByDocumentID(ctx, "tenant-a", "doc-1")
	if bytes.Contains(stored.Payload, content) {
		t.Error("want stored payload encrypted")
	}

	got, _, err := svc.Load(ctx, "tenant-a", "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("want loaded content to match")
	}
	if events := auditDB.events("tenant-a"); len(events) != 1 || events[0] != domain.EventDocumentEncrypted {
		t.Errorf("want document.encrypted audited, got %v", events)
	}
}

func TestDocumentService_Load_Tampered(t *testing.T) {
	svc, repo, auditDB := newTestDocumentService()
	ctx := context.Background()
	_, _ = svc.Store(ctx, "tenant-a", "doc-1", "process-1", []byte("contract body"))

	repo.docs["tenant-a/doc-1"].Payload[20] ^= 0xff

	got, _, err := svc.Load(ctx, "tenant-a", "doc-1")
	if !errors.Is(err, domain.ErrIntegrityCheckFailed) {
		t.Fatalf("want ErrIntegrityCheckFailed, got %v", err)
	}
	if got != nil {
		t.Error("want no plaintext on integrity failure")
	}
	events := auditDB.events("tenant-a")
	if events[len(events)-1] != domain.EventDocumentIntegrityFailed {
		t.Errorf("want document.integrity_failed audited, got %v", events)
	}
}

func TestDocumentService_Errors(t *testing.T) {
	svc, _, _ := newTestDocumentService()
	ctx := context.Background()

	if _, _, err := svc.Load(ctx, "tenant-a", "missing"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("want ErrDocumentNotFound, got %v", err)
	}
	if _, err := svc.Store(ctx, "", "doc-1", "", []byte("x")); !errors.Is(err, domain.ErrTenantContextMissing) {
		t.Errorf("want ErrTenantContextMissing, got %v", err)
	}
	if _, err := svc.Store(ctx, "tenant-a", "", "", []byte("x")); err == nil {
		t.Error("want error for missing document id")
	}
}

func TestDocumentService_DocumentHash(t *testing.T) {
	svc, _, _ := newTestDocumentService()
	ctx := context.Background()
	content := []byte("contract body")

	if _, err := svc.Store(ctx, "tenant-a", "doc-1", "process-1", content); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hash, err := svc.DocumentHash(ctx, "tenant-a", "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != ContentHash(content) {
		t.Errorf("want %s, got %s", ContentHash(content), hash)
	}

	if _, err := svc.DocumentHash(ctx, "tenant-b", "doc-1"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("want ErrDocumentNotFound, got %v", err)
	}
}
