package infra

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"esign-trust-service/internal/domain"
)

// DEKCache はテナントの導出済みDEKをプロセス内に保持するTTL付きLRU。
// 鍵素材は永続化しない。
type DEKCache struct {
	lru *expirable.LRU[string, *domain.TenantKeyMaterial]
}

// NewDEKCache は新しいDEKCacheを生成する。size が0以下なら件数上限なし。
func NewDEKCache(size int, ttl time.Duration) *DEKCache {
	if size < 0 {
		size = 0
	}
	return &DEKCache{lru: expirable.NewLRU[string, *domain.TenantKeyMaterial](size, nil, ttl)}
}

// Get はテナントの鍵を返す。期限切れのエントリは返さない。
func (c *DEKCache) Get(tenantID string) (*domain.TenantKeyMaterial, bool) {
	return c.lru.Get(tenantID)
}

// Add はテナントの鍵を保存する。
func (c *DEKCache) Add(tenantID string, material *domain.TenantKeyMaterial) {
	c.lru.Add(tenantID, material)
}

// Remove はテナントの鍵を破棄する。
func (c *DEKCache) Remove(tenantID string) {
	c.lru.Remove(tenantID)
}

// Len は保持しているテナント数を返す。
func (c *DEKCache) Len() int {
	return c.lru.Len()
}
