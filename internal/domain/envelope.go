package domain

import "time"

// エンベロープのワイヤーフォーマット: nonce(12) || ciphertext || tag(16)
const (
	EnvelopeAlgorithm = "AES-256-GCM"
	EnvelopeNonceSize = 12
	EnvelopeTagSize   = 16
	EnvelopeMinSize   = EnvelopeNonceSize + EnvelopeTagSize
)

// EnvelopeMetadata は暗号化ペイロードの構造情報を表す。鍵や平文の情報は含まない。
type EnvelopeMetadata struct {
	Algorithm      string `json:"algorithm"`
	NonceSize      int    `json:"nonce_size"`
	TagSize        int    `json:"tag_size"`
	CiphertextSize int    `json:"ciphertext_size"`
	PayloadSize    int    `json:"payload_size"`
}

// Document は暗号化済みで保存された文書を表す。
type Document struct {
	ID          string
	TenantID    string
	DocumentID  string
	ProcessID   string
	Payload     []byte // EncryptedPayload
	ContentHash string // 平文のSHA-256（16進）
	Size        int64  // 平文のバイト長
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
