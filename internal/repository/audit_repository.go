package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/usecase"
)

// AuditEntryModel はgorm用のモデル定義。ペイロードはバイト列をそのまま保持するためTEXTで持つ。
type AuditEntryModel struct {
	ID          string    `gorm:"type:varchar(26);primaryKey"`
	TenantID    string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_audit_tenant_seq"`
	Seq         int64     `gorm:"not null;uniqueIndex:uk_audit_tenant_seq"`
	SubjectType string    `gorm:"type:varchar(32);not null"`
	SubjectID   string    `gorm:"type:varchar(128);not null"`
	EventType   string    `gorm:"type:varchar(64);not null"`
	Payload     string    `gorm:"type:text;not null"`
	PrevHash    string    `gorm:"type:char(64);not null"`
	Hash        string    `gorm:"type:char(64);not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (AuditEntryModel) TableName() string {
	return "audit_entries"
}

func (m *AuditEntryModel) toDomain() *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Seq:       m.Seq,
		Subject:   domain.Subject{Type: domain.SubjectType(m.SubjectType), ID: m.SubjectID},
		EventType: m.EventType,
		Payload:   json.RawMessage(m.Payload),
		PrevHash:  m.PrevHash,
		Hash:      m.Hash,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

// AuditChainHeadModel はテナントごとのチェーン末尾。追記時の行ロック対象になる。
type AuditChainHeadModel struct {
	TenantID  string    `gorm:"type:varchar(64);primaryKey"`
	Seq       int64     `gorm:"not null;default:0"`
	Hash      string    `gorm:"type:char(64);not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (AuditChainHeadModel) TableName() string {
	return "audit_chain_heads"
}

// AuditRepository は監査エントリの追記専用ストア。
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository は新しいAuditRepositoryを生成する。
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append はチェーン末尾を行ロックしたうえで build が返したエントリを保存し、末尾を進める。
func (r *AuditRepository) Append(ctx context.Context, tenantID string, build usecase.AuditEntryBuilder) (*domain.AuditEntry, error) {
	var entry *domain.AuditEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := &AuditChainHeadModel{TenantID: tenantID, Seq: 0, Hash: domain.AuditGenesisHash}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}

		var head AuditChainHeadModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", tenantID).
			First(&head).Error; err != nil {
			return err
		}

		e, err := build(head.Seq+1, head.Hash)
		if err != nil {
			return err
		}
		model := &AuditEntryModel{
			ID:          e.ID,
			TenantID:    e.TenantID,
			Seq:         e.Seq,
			SubjectType: string(e.Subject.Type),
			SubjectID:   e.Subject.ID,
			EventType:   e.EventType,
			Payload:     string(e.Payload),
			PrevHash:    e.PrevHash,
			Hash:        e.Hash,
			CreatedAt:   e.CreatedAt,
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		result := tx.Model(&AuditChainHeadModel{}).
			Where("tenant_id = ? AND seq = ?", tenantID, head.Seq).
			Updates(map[string]any{"seq": e.Seq, "hash": e.Hash, "updated_at": time.Now().UTC()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConcurrentUpdate
		}
		entry = e
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to append audit entry",
			"operation", "append",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, err
	}
	return entry, nil
}

// ListByTenant は afterSeq より後のエントリを seq 昇順で最大 limit 件返す。
func (r *AuditRepository) ListByTenant(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*domain.AuditEntry, error) {
	var models []AuditEntryModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND seq > ?", tenantID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list audit entries",
			"operation", "list_by_tenant",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, err
	}

	entries := make([]*domain.AuditEntry, len(models))
	for i := range models {
		entries[i] = models[i].toDomain()
	}
	return entries, nil
}

// Head はチェーン末尾の seq とハッシュを返す。末尾行がなければ空チェーンとして扱う。
func (r *AuditRepository) Head(ctx context.Context, tenantID string) (int64, string, error) {
	var head AuditChainHeadModel
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, domain.AuditGenesisHash, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get audit chain head",
			"operation", "head",
			"tenant_id", tenantID,
			"error", err,
		)
		return 0, "", err
	}
	return head.Seq, head.Hash, nil
}
