package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"esign-trust-service/internal/domain"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateTenantID はテナントIDの形式を検証する。
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return domain.ErrInvalidTenantID
	}
	return nil
}

// KeyRepository は鍵世代レコードのデータアクセスのインターフェース。
type KeyRepository interface {
	ExistsByTenantID(ctx context.Context, tenantID string) (bool, error)
	Create(ctx context.Context, key *domain.TenantKey) error
	FindByTenantIDAndGeneration(ctx context.Context, tenantID string, generation uint) (*domain.TenantKey, error)
	FindAllByTenantID(ctx context.Context, tenantID string) ([]*domain.TenantKey, error)
	GetMaxGeneration(ctx context.Context, tenantID string) (uint, error)
	UpdateStatus(ctx context.Context, id string, status domain.KeyStatus) error
}

// KeyInvalidator は世代の変化をDEKキャッシュへ伝える。
type KeyInvalidator interface {
	Invalidate(tenantID string)
}

// KeyService はテナント鍵の世代管理を提供する。鍵素材は保存せず、世代と状態のみを管理する。
type KeyService struct {
	repo        KeyRepository
	invalidator KeyInvalidator
	audit       AuditRecorder
}

// NewKeyService は新しいKeyServiceを生成する。
func NewKeyService(repo KeyRepository, invalidator KeyInvalidator, audit AuditRecorder) *KeyService {
	return &KeyService{
		repo:        repo,
		invalidator: invalidator,
		audit:       audit,
	}
}

// CreateKey はテナントの第1世代を登録する。
func (s *KeyService) CreateKey(ctx context.Context, tenantID string) (*domain.KeyMetadata, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByTenantID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("checking existing key: %w", err)
	}
	if exists {
		return nil, domain.ErrKeyAlreadyExists
	}

	key := &domain.TenantKey{
		TenantID:   tenantID,
		Generation: domain.DefaultKeyGeneration,
		Status:     domain.KeyStatusActive,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("creating key: %w", err)
	}
	s.invalidator.Invalidate(tenantID)

	if err := s.record(ctx, tenantID, domain.EventKeyCreated, key.Generation); err != nil {
		return nil, err
	}
	return toKeyMetadata(key), nil
}

// RotateKey は新しい世代を追加する。以降の暗号化は新世代で行い、旧世代は復号用に残る。
// 世代レコードが無いテナントは暗黙の第1世代を先に登録してから進める。
func (s *KeyService) RotateKey(ctx context.Context, tenantID string) (*domain.KeyMetadata, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	maxGen, err := s.repo.GetMaxGeneration(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("getting max generation: %w", err)
	}
	if maxGen == 0 {
		implicit := &domain.TenantKey{
			TenantID:   tenantID,
			Generation: domain.DefaultKeyGeneration,
			Status:     domain.KeyStatusActive,
		}
		if err := s.repo.Create(ctx, implicit); err != nil {
			return nil, fmt.Errorf("creating implicit generation: %w", err)
		}
		maxGen = domain.DefaultKeyGeneration
	}

	key := &domain.TenantKey{
		TenantID:   tenantID,
		Generation: maxGen + 1,
		Status:     domain.KeyStatusActive,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("creating key: %w", err)
	}
	s.invalidator.Invalidate(tenantID)

	slog.InfoContext(ctx, "tenant key rotated",
		"operation", "rotate_key",
		"tenant_id", tenantID,
		"generation", key.Generation,
	)
	if err := s.record(ctx, tenantID, domain.EventKeyRotated, key.Generation); err != nil {
		return nil, err
	}
	return toKeyMetadata(key), nil
}

// ListKeys はテナントの全世代のメタデータを世代順に返す。
func (s *KeyService) ListKeys(ctx context.Context, tenantID string) ([]*domain.KeyMetadata, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	keys, err := s.repo.FindAllByTenantID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("finding keys: %w", err)
	}

	metadata := make([]*domain.KeyMetadata, len(keys))
	for i, k := range keys {
		metadata[i] = toKeyMetadata(k)
	}
	return metadata, nil
}

// DisableKey は世代を無効化する。その世代で暗号化されたデータは以後復号できない。
func (s *KeyService) DisableKey(ctx context.Context, tenantID string, generation uint) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	if generation == 0 {
		return domain.ErrInvalidGeneration
	}
	key, err := s.repo.FindByTenantIDAndGeneration(ctx, tenantID, generation)
	if err != nil {
		return fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return domain.ErrKeyNotFound
	}
	if key.Status == domain.KeyStatusDisabled {
		return domain.ErrKeyAlreadyDisabled
	}

	if err := s.repo.UpdateStatus(ctx, key.ID, domain.KeyStatusDisabled); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	s.invalidator.Invalidate(tenantID)

	slog.WarnContext(ctx, "tenant key generation disabled",
		"operation", "disable_key",
		"tenant_id", tenantID,
		"generation", generation,
	)
	return s.record(ctx, tenantID, domain.EventKeyDisabled, generation)
}

func (s *KeyService) record(ctx context.Context, tenantID, eventType string, generation uint) error {
	if _, err := s.audit.Record(ctx, tenantID, domain.Subject{Type: domain.SubjectTenant, ID: tenantID}, eventType, map[string]any{
		"generation": generation,
	}); err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

func toKeyMetadata(k *domain.TenantKey) *domain.KeyMetadata {
	return &domain.KeyMetadata{
		TenantID:   k.TenantID,
		Generation: k.Generation,
		Status:     k.Status,
		CreatedAt:  k.CreatedAt,
	}
}
