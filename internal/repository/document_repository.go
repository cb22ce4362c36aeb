package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"esign-trust-service/internal/domain"
)

// DocumentModel はgorm用のモデル定義。Payload は暗号化済みのエンベロープ。
type DocumentModel struct {
	ID          string    `gorm:"type:varchar(26);primaryKey"`
	TenantID    string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_document_tenant_doc"`
	DocumentID  string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_document_tenant_doc"`
	ProcessID   string    `gorm:"type:varchar(128);not null;default:''"`
	Payload     []byte    `gorm:"not null"`
	ContentHash string    `gorm:"type:char(64);not null"`
	Size        int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (DocumentModel) TableName() string {
	return "documents"
}

// DocumentRepository は暗号化済み文書の永続化を提供する。
type DocumentRepository struct {
	db    *gorm.DB
	newID func() string
}

// NewDocumentRepository は新しいDocumentRepositoryを生成する。
func NewDocumentRepository(db *gorm.DB, newID func() string) *DocumentRepository {
	return &DocumentRepository{db: db, newID: newID}
}

// Upsert は文書を保存する。同じテナント・文書IDがあれば内容を置き換える。
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = r.newID()
	}
	model := &DocumentModel{
		ID:          doc.ID,
		TenantID:    doc.TenantID,
		DocumentID:  doc.DocumentID,
		ProcessID:   doc.ProcessID,
		Payload:     doc.Payload,
		ContentHash: doc.ContentHash,
		Size:        doc.Size,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"process_id", "payload", "content_hash", "size", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert document",
			"operation", "upsert",
			"tenant_id", doc.TenantID,
			"document_id", doc.DocumentID,
			"error", err,
		)
		return err
	}
	doc.CreatedAt = model.CreatedAt
	doc.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByDocumentID は文書を取得する。無ければ nil。
func (r *DocumentRepository) FindByDocumentID(ctx context.Context, tenantID, documentID string) (*domain.Document, error) {
	var model DocumentModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find document",
			"operation", "find_by_document_id",
			"tenant_id", tenantID,
			"document_id", documentID,
			"error", err,
		)
		return nil, err
	}
	return &domain.Document{
		ID:          model.ID,
		TenantID:    model.TenantID,
		DocumentID:  model.DocumentID,
		ProcessID:   model.ProcessID,
		Payload:     model.Payload,
		ContentHash: model.ContentHash,
		Size:        model.Size,
		CreatedAt:   model.CreatedAt.UTC(),
		UpdatedAt:   model.UpdatedAt.UTC(),
	}, nil
}
