package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"esign-trust-service/internal/domain"
)

// DocumentRepository は暗号化済み文書のバイト列を保存する。
type DocumentRepository interface {
	Upsert(ctx context.Context, doc *domain.Document) error
	FindByDocumentID(ctx context.Context, tenantID, documentID string) (*domain.Document, error)
}

// Envelope は文書の暗号化・復号を提供する。
type Envelope interface {
	Encrypt(ctx context.Context, tenantID string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, tenantID string, payload []byte) ([]byte, error)
}

// DocumentService は文書をテナント鍵で暗号化してから保存する。
type DocumentService struct {
	repo   DocumentRepository
	cipher Envelope
	audit  AuditRecorder
}

// NewDocumentService は新しいDocumentServiceを生成する。
func NewDocumentService(repo DocumentRepository, cipher Envelope, audit AuditRecorder) *DocumentService {
	return &DocumentService{repo: repo, cipher: cipher, audit: audit}
}

// Store は文書を暗号化して保存し、平文のハッシュを記録する。
func (s *DocumentService) Store(ctx context.Context, tenantID, documentID, processID string, content []byte) (*domain.Document, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantContextMissing
	}
	if documentID == "" {
		return nil, errors.New("document id is required")
	}
	payload, err := s.cipher.Encrypt(ctx, tenantID, content)
	if err != nil {
		return nil, fmt.Errorf("encrypting document: %w", err)
	}
	doc := &domain.Document{
		TenantID:    tenantID,
		DocumentID:  documentID,
		ProcessID:   processID,
		Payload:     payload,
		ContentHash: ContentHash(content),
		Size:        int64(len(content)),
	}
	if err := s.repo.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("storing document: %w", err)
	}
	if _, err := s.audit.Record(ctx, tenantID, domain.Subject{Type: domain.SubjectDocument, ID: documentID}, domain.EventDocumentEncrypted, map[string]any{
		"document_id":  documentID,
		"process_id":   processID,
		"content_hash": doc.ContentHash,
		"size":         doc.Size,
	}); err != nil {
		return nil, fmt.Errorf("recording audit event: %w", err)
	}
	return doc, nil
}

// Load は文書を取得して復号する。改ざんを検知した場合は監査に記録してからエラーを返す。
func (s *DocumentService) Load(ctx context.Context, tenantID, documentID string) ([]byte, *domain.Document, error) {
	if tenantID == "" {
		return nil, nil, domain.ErrTenantContextMissing
	}
	doc, err := s.repo.FindByDocumentID(ctx, tenantID, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("finding document: %w", err)
	}
	if doc == nil {
		return nil, nil, domain.ErrDocumentNotFound
	}
	plaintext, err := s.cipher.Decrypt(ctx, tenantID, doc.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrityCheckFailed) || errors.Is(err, domain.ErrInvalidFormat) {
			slog.ErrorContext(ctx, "stored document failed integrity check",
				"operation", "document_load",
				"tenant_id", tenantID,
				"document_id", documentID,
				"security_event", true,
			)
			if _, auditErr := s.audit.Record(ctx, tenantID, domain.Subject{Type: domain.SubjectDocument, ID: documentID}, domain.EventDocumentIntegrityFailed, map[string]any{
				"document_id": documentID,
				"process_id":  doc.ProcessID,
			}); auditErr != nil {
				return nil, nil, errors.Join(err, fmt.Errorf("recording audit event: %w", auditErr))
			}
		}
		return nil, nil, err
	}
	return plaintext, doc, nil
}

// DocumentHash は保存時に記録した平文の SHA-256 を返す。復号は行わない。
func (s *DocumentService) DocumentHash(ctx context.Context, tenantID, documentID string) (string, error) {
	if tenantID == "" {
		return "", domain.ErrTenantContextMissing
	}
	doc, err := s.repo.FindByDocumentID(ctx, tenantID, documentID)
	if err != nil {
		return "", fmt.Errorf("finding document: %w", err)
	}
	if doc == nil {
		return "", domain.ErrDocumentNotFound
	}
	return doc.ContentHash, nil
}

// ContentHash は文書の SHA-256 を16進で返す。
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
