package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"esign-trust-service/internal/domain"
)

// OtpCodeModel はgorm用のモデル定義。
type OtpCodeModel struct {
	ID           string     `gorm:"type:varchar(26);primaryKey"`
	TenantID     string     `gorm:"type:varchar(64);not null;index:idx_otp_signer_created"`
	SignerID     string     `gorm:"type:varchar(128);not null;index:idx_otp_signer_created"`
	ProcessID    string     `gorm:"type:varchar(128);not null;default:''"`
	CodeHash     string     `gorm:"type:varchar(255);not null"`
	ExpiresAt    time.Time  `gorm:"not null;index:idx_otp_expires"`
	Attempts     int        `gorm:"not null;default:0"`
	VerifiedAt   *time.Time
	SupersededAt *time.Time
	Version      int       `gorm:"not null;default:1"`
	CreatedAt    time.Time `gorm:"not null;index:idx_otp_signer_created"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (OtpCodeModel) TableName() string {
	return "otp_codes"
}

func (m *OtpCodeModel) toDomain() *domain.OtpCode {
	return &domain.OtpCode{
		ID:           m.ID,
		TenantID:     m.TenantID,
		SignerID:     m.SignerID,
		ProcessID:    m.ProcessID,
		CodeHash:     m.CodeHash,
		ExpiresAt:    m.ExpiresAt.UTC(),
		Attempts:     m.Attempts,
		VerifiedAt:   utcPtr(m.VerifiedAt),
		SupersededAt: utcPtr(m.SupersededAt),
		Version:      m.Version,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// OtpRepository はOTPコードの永続化を提供する。
type OtpRepository struct {
	db    *gorm.DB
	newID func() string
}

// NewOtpRepository は新しいOtpRepositoryを生成する。
func NewOtpRepository(db *gorm.DB, newID func() string) *OtpRepository {
	return &OtpRepository{db: db, newID: newID}
}

// CountCreatedSince は since 以降に作成された署名者のコード数を返す。
func (r *OtpRepository) CountCreatedSince(ctx context.Context, tenantID, signerID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&OtpCodeModel{}).
		Where("tenant_id = ? AND signer_id = ? AND created_at >= ?", tenantID, signerID, since.UTC()).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count otp codes",
			"operation", "count_created_since",
			"tenant_id", tenantID,
			"signer_id", signerID,
			"error", err,
		)
		return 0, err
	}
	return count, nil
}

// ReplaceActive は未検証の既存コードを置き換え済みにしてから新しいコードを保存する。
func (r *OtpRepository) ReplaceActive(ctx context.Context, code *domain.OtpCode, supersededAt time.Time) error {
	if code.ID == "" {
		code.ID = r.newID()
	}
	code.Version = 1
	model := &OtpCodeModel{
		ID:        code.ID,
		TenantID:  code.TenantID,
		SignerID:  code.SignerID,
		ProcessID: code.ProcessID,
		CodeHash:  code.CodeHash,
		ExpiresAt: code.ExpiresAt.UTC(),
		Version:   code.Version,
		CreatedAt: code.CreatedAt.UTC(),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&OtpCodeModel{}).
			Where("tenant_id = ? AND signer_id = ? AND verified_at IS NULL AND superseded_at IS NULL", code.TenantID, code.SignerID).
			Updates(map[string]any{
				"superseded_at": supersededAt.UTC(),
				"version":       gorm.Expr("version + 1"),
				"updated_at":    time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
		return tx.Create(model).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to replace active otp code",
			"operation", "replace_active",
			"tenant_id", code.TenantID,
			"signer_id", code.SignerID,
			"error", err,
		)
		return err
	}
	code.UpdatedAt = model.UpdatedAt
	return nil
}

// FindLatest は置き換え済みでない最新のコードを返す。無ければ nil。
func (r *OtpRepository) FindLatest(ctx context.Context, tenantID, signerID string) (*domain.OtpCode, error) {
	var model OtpCodeModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND signer_id = ? AND superseded_at IS NULL", tenantID, signerID).
		Order("created_at DESC").
		Order("id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find latest otp code",
			"operation", "find_latest",
			"tenant_id", tenantID,
			"signer_id", signerID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// IncrementAttempts は version が一致する場合のみ試行回数を1増やす。
func (r *OtpRepository) IncrementAttempts(ctx context.Context, id string, version int) error {
	return r.updateVersioned(ctx, "increment_attempts", id, version, map[string]any{
		"attempts": gorm.Expr("attempts + 1"),
	})
}

// MarkVerified は version が一致する場合のみ検証済みにする。
func (r *OtpRepository) MarkVerified(ctx context.Context, id string, verifiedAt time.Time, version int) error {
	return r.updateVersioned(ctx, "mark_verified", id, version, map[string]any{
		"verified_at": verifiedAt.UTC(),
	})
}

func (r *OtpRepository) updateVersioned(ctx context.Context, operation, id string, version int, updates map[string]any) error {
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&OtpCodeModel{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to update otp code",
			"operation", operation,
			"id", id,
			"error", result.Error,
		)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

// ExistsVerified は署名者に検証済みのコードがあるかを返す。
func (r *OtpRepository) ExistsVerified(ctx context.Context, tenantID, signerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&OtpCodeModel{}).
		Where("tenant_id = ? AND signer_id = ? AND verified_at IS NOT NULL", tenantID, signerID).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to check verified otp codes",
			"operation", "exists_verified",
			"tenant_id", tenantID,
			"signer_id", signerID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// DeleteExpiredBefore は before より前に期限切れになった未検証コードを削除する。
// 検証済みの行は ExistsVerified の根拠になるため残す。
func (r *OtpRepository) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ? AND verified_at IS NULL", before.UTC()).
		Delete(&OtpCodeModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete expired otp codes",
			"operation", "delete_expired_before",
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
