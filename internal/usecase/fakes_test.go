package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"esign-trust-service/internal/domain"
)

// fakeClock はテスト用の進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// keyLocker はキーごとの sync.Mutex による Locker。
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *keyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

var idSeq atomic.Int64

func testID() string {
	return fmt.Sprintf("id-%06d", idSeq.Add(1))
}

// memoryAuditRepository は監査エントリをメモリ上に保持する。
type memoryAuditRepository struct {
	mu        sync.Mutex
	entries   map[string][]*domain.AuditEntry
	heads     map[string]*domain.AuditEntry
	appendErr error
	listErr   error
}

func newMemoryAuditRepository() *memoryAuditRepository {
	return &memoryAuditRepository{
		entries: make(map[string][]*domain.AuditEntry),
		heads:   make(map[string]*domain.AuditEntry),
	}
}

func (r *memoryAuditRepository) Append(ctx context.Context, tenantID string, build AuditEntryBuilder) (*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return nil, r.appendErr
	}
	chain := r.entries[tenantID]
	seq := int64(1)
	prev := domain.AuditGenesisHash
	if n := len(chain); n > 0 {
		seq = chain[n-1].Seq + 1
		prev = chain[n-1].Hash
	}
	e, err := build(seq, prev)
	if err != nil {
		return nil, err
	}
	stored := *e
	r.entries[tenantID] = append(chain, &stored)
	head := stored
	r.heads[tenantID] = &head
	return e, nil
}

func (r *memoryAuditRepository) Head(ctx context.Context, tenantID string) (int64, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.heads[tenantID]
	if !ok {
		return 0, domain.AuditGenesisHash, nil
	}
	return h.Seq, h.Hash, nil
}

func (r *memoryAuditRepository) ListByTenant(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*domain.AuditEntry
	for _, e := range r.entries[tenantID] {
		if e.Seq <= afterSeq {
			continue
		}
		c := *e
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryAuditRepository) events(tenantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries[tenantID] {
		out = append(out, e.EventType)
	}
	return out
}

// tamper は保存済みエントリを直接書き換える。
func (r *memoryAuditRepository) tamper(tenantID string, seq int64, fn func(*domain.AuditEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries[tenantID] {
		if e.Seq == seq {
			fn(e)
		}
	}
}

// truncate は末尾の n 件を末尾行を残したまま削除する。
func (r *memoryAuditRepository) truncate(tenantID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.entries[tenantID]
	r.entries[tenantID] = chain[:len(chain)-n]
}

// memoryOtpRepository はOTPコードをメモリ上に保持する。
type memoryOtpRepository struct {
	mu    sync.Mutex
	codes []*domain.OtpCode
}

func newMemoryOtpRepository() *memoryOtpRepository {
	return &memoryOtpRepository{}
}

func (r *memoryOtpRepository) CountCreatedSince(ctx context.Context, tenantID, signerID string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.codes {
		if c.TenantID == tenantID && c.SignerID == signerID && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memoryOtpRepository) ReplaceActive(ctx context.Context, code *domain.OtpCode, supersededAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.TenantID == code.TenantID && c.SignerID == code.SignerID && c.VerifiedAt == nil && c.SupersededAt == nil {
			at := supersededAt
			c.SupersededAt = &at
			c.Version++
		}
	}
	if code.ID == "" {
		code.ID = testID()
	}
	code.Version = 1
	stored := *code
	r.codes = append(r.codes, &stored)
	return nil
}

func (r *memoryOtpRepository) FindLatest(ctx context.Context, tenantID, signerID string) (*domain.OtpCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.codes) - 1; i >= 0; i-- {
		c := r.codes[i]
		if c.TenantID == tenantID && c.SignerID == signerID && c.SupersededAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryOtpRepository) IncrementAttempts(ctx context.Context, id string, version int) error {
	return r.update(id, version, func(c *domain.OtpCode) { c.Attempts++ })
}

func (r *memoryOtpRepository) MarkVerified(ctx context.Context, id string, verifiedAt time.Time, version int) error {
	return r.update(id, version, func(c *domain.OtpCode) { c.VerifiedAt = &verifiedAt })
}

func (r *memoryOtpRepository) update(id string, version int, fn func(*domain.OtpCode)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.ID == id {
			if c.Version != version {
				return domain.ErrConcurrentUpdate
			}
			fn(c)
			c.Version++
			return nil
		}
	}
	return domain.ErrConcurrentUpdate
}

func (r *memoryOtpRepository) ExistsVerified(ctx context.Context, tenantID, signerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.TenantID == tenantID && c.SignerID == signerID && c.VerifiedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryOtpRepository) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.codes[:0]
	var n int64
	for _, c := range r.codes {
		if c.VerifiedAt == nil && c.ExpiresAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	r.codes = kept
	return n, nil
}

func (r *memoryOtpRepository) active(tenantID, signerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.codes {
		if c.TenantID == tenantID && c.SignerID == signerID && c.SupersededAt == nil && c.VerifiedAt == nil {
			n++
		}
	}
	return n
}

// plainCodes は決定的なコードと平文比較のハッシュを返す CodeGenerator。
type plainCodes struct {
	mu   sync.Mutex
	next []string
}

func (g *plainCodes) Generate(length int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.next) == 0 {
		return fmt.Sprintf("%0*d", length, 123456%pow10(length)), nil
	}
	code := g.next[0]
	g.next = g.next[1:]
	return code, nil
}

func (g *plainCodes) Hash(code string) (string, error) { return "plain:" + code, nil }

func (g *plainCodes) Verify(code, hash string) bool { return hash == "plain:"+code }

func pow10(n int) int {
	p := 1
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

// recordingNotifier は配送依頼を記録する。
type recordingNotifier struct {
	mu    sync.Mutex
	codes []string
	err   error
}

func (n *recordingNotifier) Enqueue(ctx context.Context, signer domain.SignerRef, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.codes = append(n.codes, code)
	return nil
}

// memoryKeyRepository は鍵世代レコードをメモリ上に保持する。
type memoryKeyRepository struct {
	mu   sync.Mutex
	keys []*domain.TenantKey
}

func (r *memoryKeyRepository) ExistsByTenantID(ctx context.Context, tenantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.TenantID == tenantID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryKeyRepository) Create(ctx context.Context, key *domain.TenantKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.TenantID == key.TenantID && k.Generation == key.Generation {
			return domain.ErrKeyAlreadyExists
		}
	}
	key.ID = testID()
	key.CreatedAt = time.Now()
	stored := *key
	r.keys = append(r.keys, &stored)
	return nil
}

func (r *memoryKeyRepository) FindByTenantIDAndGeneration(ctx context.Context, tenantID string, generation uint) (*domain.TenantKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.TenantID == tenantID && k.Generation == generation {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryKeyRepository) FindAllByTenantID(ctx context.Context, tenantID string) ([]*domain.TenantKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.TenantKey
	for _, k := range r.keys {
		if k.TenantID == tenantID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, nil
}

func (r *memoryKeyRepository) GetMaxGeneration(ctx context.Context, tenantID string) (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var maxGen uint
	for _, k := range r.keys {
		if k.TenantID == tenantID && k.Generation > maxGen {
			maxGen = k.Generation
		}
	}
	return maxGen, nil
}

func (r *memoryKeyRepository) UpdateStatus(ctx context.Context, id string, status domain.KeyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.ID == id {
			k.Status = status
			return nil
		}
	}
	return domain.ErrKeyNotFound
}

// memoryDocumentRepository は文書をメモリ上に保持する。
type memoryDocumentRepository struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func newMemoryDocumentRepository() *memoryDocumentRepository {
	return &memoryDocumentRepository{docs: make(map[string]*domain.Document)}
}

func (r *memoryDocumentRepository) Upsert(ctx context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *doc
	stored.Payload = append([]byte(nil), doc.Payload...)
	r.docs[doc.TenantID+"/"+doc.DocumentID] = &stored
	return nil
}

func (r *memoryDocumentRepository) FindByDocumentID(ctx context.Context, tenantID, documentID string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[tenantID+"/"+documentID]
	if !ok {
		return nil, nil
	}
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	return &cp, nil
}

// mapCache は DEKCache の最小実装。
type mapCache struct {
	mu sync.Mutex
	m  map[string]*domain.TenantKeyMaterial
}

func newMapCache() *mapCache {
	return &mapCache{m: make(map[string]*domain.TenantKeyMaterial)}
}

func (c *mapCache) Get(tenantID string) (*domain.TenantKeyMaterial, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[tenantID]
	return m, ok
}

func (c *mapCache) Add(tenantID string, material *domain.TenantKeyMaterial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[tenantID] = material
}

func (c *mapCache) Remove(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, tenantID)
}

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")

func newTestAuditLog(clock *fakeClock) (*AuditLog, *memoryAuditRepository) {
	repo := newMemoryAuditRepository()
	return NewAuditLog(repo, newKeyLocker(), testID).WithClock(clock.Now), repo
}
