// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"esign-trust-service/internal/domain"
)

// TenantKeyModel はgorm用のモデル定義。鍵素材の列は持たない。
type TenantKeyModel struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	TenantID   string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_tenant_generation;index:idx_tenant_status"`
	Generation uint      `gorm:"not null;uniqueIndex:uk_tenant_generation"`
	Status     string    `gorm:"type:varchar(16);not null;default:'active';index:idx_tenant_status"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (TenantKeyModel) TableName() string {
	return "tenant_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *TenantKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *TenantKeyModel) toDomain() *domain.TenantKey {
	return &domain.TenantKey{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Generation: m.Generation,
		Status:     domain.KeyStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// KeyRepository は鍵世代レコードへのアクセスを提供する。
type KeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository は新しいKeyRepositoryを生成する。
func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// ExistsByTenantID は指定されたテナントに世代レコードが存在するか確認する。
func (r *KeyRepository) ExistsByTenantID(ctx context.Context, tenantID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&TenantKeyModel{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count keys by tenant_id",
			"operation", "exists_by_tenant_id",
			"tenant_id", tenantID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// Create は新しい世代を保存する。同じ世代が既にあれば ErrKeyAlreadyExists を返す。
func (r *KeyRepository) Create(ctx context.Context, key *domain.TenantKey) error {
	model := &TenantKeyModel{
		ID:         key.ID,
		TenantID:   key.TenantID,
		Generation: key.Generation,
		Status:     string(key.Status),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrKeyAlreadyExists
		}
		slog.ErrorContext(ctx, "failed to create key",
			"operation", "create",
			"tenant_id", key.TenantID,
			"generation", key.Generation,
			"error", err,
		)
		return err
	}
	key.ID = model.ID
	key.CreatedAt = model.CreatedAt
	key.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByTenantIDAndGeneration は指定されたテナント・世代のレコードを取得する。無ければ nil。
func (r *KeyRepository) FindByTenantIDAndGeneration(ctx context.Context, tenantID string, generation uint) (*domain.TenantKey, error) {
	var model TenantKeyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND generation = ?", tenantID, generation).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find key",
			"operation", "find_by_tenant_id_and_generation",
			"tenant_id", tenantID,
			"generation", generation,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByTenantID は指定されたテナントの全世代を世代の昇順で取得する。
func (r *KeyRepository) FindAllByTenantID(ctx context.Context, tenantID string) ([]*domain.TenantKey, error) {
	var models []TenantKeyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("generation ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all keys by tenant_id",
			"operation", "find_all_by_tenant_id",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, err
	}

	keys := make([]*domain.TenantKey, len(models))
	for i := range models {
		keys[i] = models[i].toDomain()
	}
	return keys, nil
}

// GetMaxGeneration は指定されたテナントの最大世代番号を取得する。レコードが無ければ0。
func (r *KeyRepository) GetMaxGeneration(ctx context.Context, tenantID string) (uint, error) {
	var maxGen *uint
	err := r.db.WithContext(ctx).
		Model(&TenantKeyModel{}).
		Where("tenant_id = ?", tenantID).
		Select("MAX(generation)").
		Scan(&maxGen).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to get max generation",
			"operation", "get_max_generation",
			"tenant_id", tenantID,
			"error", err,
		)
		return 0, err
	}
	if maxGen == nil {
		return 0, nil
	}
	return *maxGen, nil
}

// UpdateStatus は指定されたIDのステータスを更新する。
func (r *KeyRepository) UpdateStatus(ctx context.Context, id string, status domain.KeyStatus) error {
	result := r.db.WithContext(ctx).
		Model(&TenantKeyModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to update status",
			"operation", "update_status",
			"id", id,
			"status", status,
			"error", result.Error,
		)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}
