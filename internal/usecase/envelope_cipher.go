package usecase

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/obs"
)

// TenantKeyProvider はテナントのDEKを提供する。
type TenantKeyProvider interface {
	DeriveKey(ctx context.Context, tenantID string) ([]byte, error)
	DecryptionKeys(ctx context.Context, tenantID string) ([][]byte, error)
}

// EnvelopeCipher はテナントのDEKによる AES-256-GCM 暗号化・復号を提供する。
// ペイロード形式は nonce(12) || ciphertext || tag(16)。
type EnvelopeCipher struct {
	keys   TenantKeyProvider
	random io.Reader
}

// NewEnvelopeCipher は新しいEnvelopeCipherを生成する。
func NewEnvelopeCipher(keys TenantKeyProvider) *EnvelopeCipher {
	return &EnvelopeCipher{keys: keys, random: rand.Reader}
}

// Encrypt は平文を暗号化する。呼び出しごとに新しいノンスを生成する。
func (c *EnvelopeCipher) Encrypt(ctx context.Context, tenantID string, plaintext []byte) ([]byte, error) {
	if tenantID == "" {
		obs.EnvelopeOperations.WithLabelValues("encrypt", "tenant_missing").Inc()
		return nil, domain.ErrTenantContextMissing
	}
	key, err := c.keys.DeriveKey(ctx, tenantID)
	if err != nil {
		obs.EnvelopeOperations.WithLabelValues("encrypt", "key_error").Inc()
		return nil, fmt.Errorf("deriving tenant key: %w", err)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, domain.EnvelopeNonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		obs.EnvelopeOperations.WithLabelValues("encrypt", "nonce_error").Inc()
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, domain.EnvelopeNonceSize, domain.EnvelopeNonceSize+len(plaintext)+domain.EnvelopeTagSize)
	copy(out, nonce)
	out = aead.Seal(out, nonce, plaintext, nil)
	obs.EnvelopeOperations.WithLabelValues("encrypt", "success").Inc()
	return out, nil
}

// Decrypt はペイロードを復号する。認証タグが一致しない場合は平文を一切返さない。
func (c *EnvelopeCipher) Decrypt(ctx context.Context, tenantID string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		obs.EnvelopeOperations.WithLabelValues("decrypt", "tenant_missing").Inc()
		return nil, domain.ErrTenantContextMissing
	}
	if len(payload) < domain.EnvelopeMinSize {
		obs.EnvelopeOperations.WithLabelValues("decrypt", "invalid_format").Inc()
		return nil, fmt.Errorf("%w: payload is %d bytes, need at least %d", domain.ErrInvalidFormat, len(payload), domain.EnvelopeMinSize)
	}
	keys, err := c.keys.DecryptionKeys(ctx, tenantID)
	if err != nil {
		obs.EnvelopeOperations.WithLabelValues("decrypt", "key_error").Inc()
		return nil, fmt.Errorf("deriving tenant key: %w", err)
	}

	nonce := payload[:domain.EnvelopeNonceSize]
	sealed := payload[domain.EnvelopeNonceSize:]
	for _, key := range keys {
		aead, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		plaintext, err := aead.Open(nil, nonce, sealed, nil)
		if err == nil {
			obs.EnvelopeOperations.WithLabelValues("decrypt", "success").Inc()
			return plaintext, nil
		}
	}

	obs.EnvelopeOperations.WithLabelValues("decrypt", "integrity_failed").Inc()
	slog.ErrorContext(ctx, "envelope authentication failed",
		"operation", "decrypt",
		"tenant_id", tenantID,
		"payload_size", len(payload),
		"security_event", true,
	)
	return nil, domain.ErrIntegrityCheckFailed
}

// IsEncrypted はエンベロープとして妥当な長さかを返す。移行・調査用の目安でありセキュリティ境界ではない。
func IsEncrypted(data []byte) bool {
	return len(data) >= domain.EnvelopeMinSize
}

// EnvelopeMetadataOf はペイロードの構造情報を返す。
func EnvelopeMetadataOf(payload []byte) (*domain.EnvelopeMetadata, error) {
	if len(payload) < domain.EnvelopeMinSize {
		return nil, domain.ErrInvalidFormat
	}
	return &domain.EnvelopeMetadata{
		Algorithm:      domain.EnvelopeAlgorithm,
		NonceSize:      domain.EnvelopeNonceSize,
		TagSize:        domain.EnvelopeTagSize,
		CiphertextSize: len(payload) - domain.EnvelopeMinSize,
		PayloadSize:    len(payload),
	}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != domain.DEKSize {
		return nil, fmt.Errorf("%w: tenant key must be %d bytes", domain.ErrConfiguration, domain.DEKSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}
