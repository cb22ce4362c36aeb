// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// KeyStatus はテナント鍵世代のステータスを表す。
type KeyStatus string

const (
	// KeyStatusActive は有効な世代を表す。
	KeyStatusActive KeyStatus = "active"
	// KeyStatusDisabled は無効化された世代を表す。この世代で暗号化されたデータは復号できない。
	KeyStatusDisabled KeyStatus = "disabled"
)

// DefaultKeyGeneration は世代レコードが存在しないテナントに暗黙で割り当てる世代。
const DefaultKeyGeneration uint = 1

// DEKSize はデータ暗号鍵のバイト長（AES-256）。
const DEKSize = 32

// TenantKey はテナント鍵の世代レコードを表す。
// 鍵素材は保持せず、マスター鍵・テナントID・鍵バージョン・世代から都度導出する。
type TenantKey struct {
	ID         string
	TenantID   string
	Generation uint
	Status     KeyStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KeyMetadata は鍵世代のメタデータを表す。
type KeyMetadata struct {
	TenantID   string
	Generation uint
	Status     KeyStatus
	CreatedAt  time.Time
}

// GenerationKey は1世代分の導出済みDEK。
type GenerationKey struct {
	Generation uint
	Key        []byte
}

// TenantKeyMaterial はテナントの導出済みDEK群。メモリ上のキャッシュのみが保持し、永続化しない。
// Keys は有効な世代のみを新しい順に並べる。先頭が暗号化に使う現行世代。
type TenantKeyMaterial struct {
	TenantID string
	Keys     []GenerationKey
}

// Current は暗号化に使う現行世代の鍵を返す。
func (m *TenantKeyMaterial) Current() (GenerationKey, bool) {
	if m == nil || len(m.Keys) == 0 {
		return GenerationKey{}, false
	}
	return m.Keys[0], true
}
