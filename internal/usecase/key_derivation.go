// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/singleflight"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/obs"
)

// DEKCache はテナントごとの導出済みDEKを保持するキャッシュ。
// 並行アクセスに安全であること。TTLは実装側で持つ。
type DEKCache interface {
	Get(tenantID string) (*domain.TenantKeyMaterial, bool)
	Add(tenantID string, material *domain.TenantKeyMaterial)
	Remove(tenantID string)
}

// KeyGenerationReader はテナント鍵の世代レコードを参照する。
type KeyGenerationReader interface {
	FindAllByTenantID(ctx context.Context, tenantID string) ([]*domain.TenantKey, error)
}

// KeyDerivation はマスター鍵からテナントごとのDEKを導出する。
// 導出は (マスター鍵, テナントID, 鍵バージョン, 世代) に対して決定的で、キャッシュは性能のためだけに使う。
type KeyDerivation struct {
	masterKey   []byte
	keyVersion  string
	cache       DEKCache
	generations KeyGenerationReader
	group       singleflight.Group

	mu     sync.Mutex
	epochs map[string]uint64 // Invalidate ごとに進め、古い導出結果をキャッシュへ書き戻さない
}

// NewKeyDerivation は新しいKeyDerivationを生成する。
// generations が nil の場合、すべてのテナントは既定世代のみを持つ。
func NewKeyDerivation(masterKey []byte, keyVersion string, cache DEKCache, generations KeyGenerationReader) *KeyDerivation {
	mk := make([]byte, len(masterKey))
	copy(mk, masterKey)
	return &KeyDerivation{
		masterKey:   mk,
		keyVersion:  keyVersion,
		cache:       cache,
		generations: generations,
		epochs:      make(map[string]uint64),
	}
}

// DeriveKey はテナントの現行世代のDEK（32バイト）を返す。戻り値は呼び出し元が所有するコピー。
func (k *KeyDerivation) DeriveKey(ctx context.Context, tenantID string) ([]byte, error) {
	material, err := k.material(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	current, ok := material.Current()
	if !ok {
		return nil, domain.ErrKeyDisabled
	}
	return cloneKey(current.Key), nil
}

// DecryptionKeys は復号に試す鍵を新しい世代から順に返す。
func (k *KeyDerivation) DecryptionKeys(ctx context.Context, tenantID string) ([][]byte, error) {
	material, err := k.material(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(material.Keys) == 0 {
		return nil, domain.ErrKeyDisabled
	}
	keys := make([][]byte, len(material.Keys))
	for i, gk := range material.Keys {
		keys[i] = cloneKey(gk.Key)
	}
	return keys, nil
}

// DeriveKeyForGeneration は指定世代のDEKをキャッシュを使わずに導出する。
func (k *KeyDerivation) DeriveKeyForGeneration(tenantID string, generation uint) ([]byte, error) {
	if err := k.checkMasterKey(); err != nil {
		return nil, err
	}
	if tenantID == "" {
		return nil, domain.ErrTenantContextMissing
	}
	if generation == 0 {
		return nil, domain.ErrInvalidGeneration
	}
	return k.derive(tenantID, generation)
}

// Invalidate はテナントのキャッシュを破棄する。次回の呼び出しで再導出される。
func (k *KeyDerivation) Invalidate(tenantID string) {
	k.mu.Lock()
	k.epochs[tenantID]++
	k.mu.Unlock()
	if k.cache != nil {
		k.cache.Remove(tenantID)
	}
	k.group.Forget(tenantID)
}

func (k *KeyDerivation) material(ctx context.Context, tenantID string) (*domain.TenantKeyMaterial, error) {
	if err := k.checkMasterKey(); err != nil {
		return nil, err
	}
	if tenantID == "" {
		return nil, domain.ErrTenantContextMissing
	}
	if k.cache != nil {
		if m, ok := k.cache.Get(tenantID); ok {
			obs.DEKCacheLookups.WithLabelValues("hit").Inc()
			return m, nil
		}
	}
	obs.DEKCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := k.group.Do(tenantID, func() (interface{}, error) {
		epoch := k.epoch(tenantID)
		generations, err := k.activeGenerations(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		m := &domain.TenantKeyMaterial{TenantID: tenantID, Keys: make([]domain.GenerationKey, 0, len(generations))}
		for _, gen := range generations {
			key, err := k.derive(tenantID, gen)
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, domain.GenerationKey{Generation: gen, Key: key})
		}
		if k.cache != nil && k.epoch(tenantID) == epoch {
			k.cache.Add(tenantID, m)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.TenantKeyMaterial), nil
}

func (k *KeyDerivation) epoch(tenantID string) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.epochs[tenantID]
}

// activeGenerations は有効な世代を新しい順に返す。世代レコードが無いテナントは既定世代のみ。
func (k *KeyDerivation) activeGenerations(ctx context.Context, tenantID string) ([]uint, error) {
	if k.generations == nil {
		return []uint{domain.DefaultKeyGeneration}, nil
	}
	keys, err := k.generations.FindAllByTenantID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("finding key generations: %w", err)
	}
	if len(keys) == 0 {
		return []uint{domain.DefaultKeyGeneration}, nil
	}
	var gens []uint
	for i := len(keys) - 1; i >= 0; i-- {
		if keys[i].Status == domain.KeyStatusActive {
			gens = append(gens, keys[i].Generation)
		}
	}
	return gens, nil
}

// derive は HKDF-SHA256 でDEKを導出する。info にはテナントIDを長さ付きで埋め込み、
// 区切り文字を含むIDでも別テナントと衝突しないようにする。
func (k *KeyDerivation) derive(tenantID string, generation uint) ([]byte, error) {
	info := "esign-trust/dek|" + strconv.Itoa(len(tenantID)) + ":" + tenantID +
		"|" + k.keyVersion + "|g" + strconv.FormatUint(uint64(generation), 10)
	reader := hkdf.New(sha256.New, k.masterKey, nil, []byte(info))
	key := make([]byte, domain.DEKSize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

func (k *KeyDerivation) checkMasterKey() error {
	if len(k.masterKey) == 0 {
		return fmt.Errorf("%w: master key is not configured", domain.ErrConfiguration)
	}
	if len(k.masterKey) < domain.DEKSize {
		return fmt.Errorf("%w: master key must be at least %d bytes", domain.ErrConfiguration, domain.DEKSize)
	}
	return nil
}

func cloneKey(key []byte) []byte {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}
