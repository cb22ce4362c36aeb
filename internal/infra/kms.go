package infra

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"

	"esign-trust-service/config"
	"esign-trust-service/internal/domain"
)

// KMSClient はCloud KMSクライアントをラップする。マスター鍵のラップ・アンラップに使う。
type KMSClient struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSClient は指定したキー名でKMSClientを生成する。
func NewKMSClient(ctx context.Context, keyName string) (*KMSClient, error) {
	if keyName == "" {
		return nil, fmt.Errorf("%w: KMS key name is required", domain.ErrConfiguration)
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSClient{
		client:  client,
		keyName: keyName,
	}, nil
}

// Encrypt は平文をCloud KMSで暗号化する。
func (c *KMSClient) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	resp, err := c.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:      c.keyName,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	return resp.Ciphertext, nil
}

// Decrypt は暗号文をCloud KMSで復号する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := c.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       c.keyName,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}

// Unwrapper はラップされたマスター鍵を復号する。
type Unwrapper interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// LoadMasterKey は設定からマスター鍵を取り出す。
// MASTER_KEY_CIPHERTEXT が指定されていれば unwrap で復号し、無ければ MASTER_ENCRYPTION_KEY を使う。
func LoadMasterKey(ctx context.Context, cfg *config.Config, unwrap Unwrapper) ([]byte, error) {
	if cfg.MasterKeyCiphertext == "" {
		return config.DecodeMasterKey(cfg.MasterEncryptionKey)
	}
	if unwrap == nil {
		return nil, fmt.Errorf("%w: KMS client is required to unwrap the master key", domain.ErrConfiguration)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.MasterKeyCiphertext))
	if err != nil {
		return nil, fmt.Errorf("%w: MASTER_KEY_CIPHERTEXT is not valid base64", domain.ErrConfiguration)
	}
	key, err := unwrap.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("unwrapping master key: %w", err)
	}
	if len(key) < domain.DEKSize {
		return nil, fmt.Errorf("%w: unwrapped master key must be at least %d bytes", domain.ErrConfiguration, domain.DEKSize)
	}
	return key, nil
}
