package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/obs"
)

// AuditEntryBuilder は採番済みの seq と直前エントリのハッシュから追記するエントリを組み立てる。
type AuditEntryBuilder func(seq int64, prevHash string) (*domain.AuditEntry, error)

// AuditRepository は監査エントリの追記専用ストア。更新・削除は提供しない。
type AuditRepository interface {
	// Append はテナントのチェーン先頭をロックし、builder が返したエントリを保存する。
	Append(ctx context.Context, tenantID string, build AuditEntryBuilder) (*domain.AuditEntry, error)
	// ListByTenant は afterSeq より後のエントリを seq 昇順で最大 limit 件返す。
	ListByTenant(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*domain.AuditEntry, error)
	// Head は追記時に更新されるチェーン末尾の seq とハッシュを返す。空なら 0 と起点ハッシュ。
	Head(ctx context.Context, tenantID string) (int64, string, error)
}

// Locker はキー単位の排他を提供する。戻り値の関数でロックを解放する。
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// IDGenerator は監査エントリIDを生成する。
type IDGenerator func() string

// AuditLog はテナント単位のハッシュチェーン監査ログ。
type AuditLog struct {
	repo     AuditRepository
	locker   Locker
	newID    IDGenerator
	now      func() time.Time
	pageSize int
}

// NewAuditLog は新しいAuditLogを生成する。
func NewAuditLog(repo AuditRepository, locker Locker, newID IDGenerator) *AuditLog {
	return &AuditLog{
		repo:     repo,
		locker:   locker,
		newID:    newID,
		now:      time.Now,
		pageSize: 500,
	}
}

// WithClock はテスト用に時刻関数を差し替える。
func (a *AuditLog) WithClock(now func() time.Time) *AuditLog {
	a.now = now
	return a
}

// Record はイベントをテナントのチェーン末尾に追記する。tenantID が空ならシステムチェーンに記録する。
func (a *AuditLog) Record(ctx context.Context, tenantID string, subject domain.Subject, eventType string, payload map[string]any) (*domain.AuditEntry, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("%w: event type is required", domain.ErrInvalidAuditEvent)
	}
	if subject.Type == "" || subject.ID == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrInvalidAuditEvent)
	}
	if tenantID == "" {
		tenantID = domain.AuditSystemTenantID
	}
	if payload == nil {
		payload = map[string]any{}
	}
	// encoding/json はマップのキーをソートして出力するため正規化済みになる
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not serializable: %v", domain.ErrInvalidAuditEvent, err)
	}

	unlock, err := a.locker.Lock(ctx, "audit:"+tenantID)
	if err != nil {
		return nil, fmt.Errorf("locking audit scope: %w", err)
	}
	defer unlock()

	createdAt := a.now().UTC().Truncate(time.Microsecond)
	entry, err := a.repo.Append(ctx, tenantID, func(seq int64, prevHash string) (*domain.AuditEntry, error) {
		e := &domain.AuditEntry{
			ID:        a.newID(),
			TenantID:  tenantID,
			Seq:       seq,
			Subject:   subject,
			EventType: eventType,
			Payload:   payloadJSON,
			PrevHash:  prevHash,
			CreatedAt: createdAt,
		}
		hash, err := ComputeEntryHash(e)
		if err != nil {
			return nil, err
		}
		e.Hash = hash
		return e, nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to append audit entry",
			"operation", "audit_record",
			"tenant_id", tenantID,
			"event_type", eventType,
			"error", err,
		)
		return nil, fmt.Errorf("appending audit entry: %w", err)
	}
	return entry, nil
}

// VerifyChain はテナントのチェーンを先頭から再計算して検証する。
func (a *AuditLog) VerifyChain(ctx context.Context, tenantID string) (*domain.ChainVerification, error) {
	return a.VerifyChainFunc(ctx, tenantID, nil)
}

// VerifyChainFunc は VerifyChain と同じ検証を行い、検証を通過したエントリごとに visit を呼ぶ。
// ストレージのエラーは改ざんではなくインフラのエラーとして返す。
func (a *AuditLog) VerifyChainFunc(ctx context.Context, tenantID string, visit func(*domain.AuditEntry)) (*domain.ChainVerification, error) {
	if tenantID == "" {
		tenantID = domain.AuditSystemTenantID
	}
	result := &domain.ChainVerification{TenantID: tenantID, Valid: true, Errors: []domain.ChainError{}}

	// 末尾は一覧より先に読む。検証中の追記は末尾より後ろに並ぶだけになる
	headSeq, headHash, err := a.repo.Head(ctx, tenantID)
	if err != nil {
		obs.ChainVerifications.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reading audit chain head: %w", err)
	}

	prevHash := domain.AuditGenesisHash
	expectedSeq := int64(1)
	afterSeq := int64(0)
	for {
		entries, err := a.repo.ListByTenant(ctx, tenantID, afterSeq, a.pageSize)
		if err != nil {
			obs.ChainVerifications.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("listing audit entries: %w", err)
		}
		for _, e := range entries {
			reason := checkEntry(e, expectedSeq, prevHash)
			if reason == "" && e.Seq == headSeq && e.Hash != headHash {
				reason = "chain head hash mismatch"
			}
			if reason != "" {
				return a.broken(ctx, result, domain.ChainError{Seq: e.Seq, EntryID: e.ID, Reason: reason}), nil
			}
			if visit != nil {
				visit(e)
			}
			prevHash = e.Hash
			expectedSeq++
			result.EntriesVerified++
		}
		if len(entries) < a.pageSize {
			break
		}
		afterSeq = entries[len(entries)-1].Seq
	}
	if last := expectedSeq - 1; last < headSeq {
		return a.broken(ctx, result, domain.ChainError{
			Seq:    last + 1,
			Reason: fmt.Sprintf("chain truncated: head records seq %d", headSeq),
		}), nil
	}
	obs.ChainVerifications.WithLabelValues("valid").Inc()
	return result, nil
}

func (a *AuditLog) broken(ctx context.Context, result *domain.ChainVerification, cause domain.ChainError) *domain.ChainVerification {
	result.Valid = false
	result.Errors = append(result.Errors, cause)
	obs.ChainVerifications.WithLabelValues("tampered").Inc()
	slog.WarnContext(ctx, "audit chain verification failed",
		"operation", "audit_verify_chain",
		"tenant_id", result.TenantID,
		"seq", cause.Seq,
		"reason", cause.Reason,
		"security_event", true,
	)
	return result
}

func checkEntry(e *domain.AuditEntry, expectedSeq int64, prevHash string) string {
	if e.Seq != expectedSeq {
		return fmt.Sprintf("sequence mismatch: expected %d", expectedSeq)
	}
	if e.PrevHash != prevHash {
		return "previous hash mismatch"
	}
	recomputed, err := ComputeEntryHash(e)
	if err != nil {
		return "hash recompute failed: " + err.Error()
	}
	if recomputed != e.Hash {
		return "hash mismatch"
	}
	return ""
}

// chainRecord はハッシュ対象の正規化表現。フィールド順は固定。
type chainRecord struct {
	CreatedAt   string `json:"created_at"`
	EventType   string `json:"event_type"`
	Payload     string `json:"payload"` // 保存されたバイト列そのもの
	Seq         int64  `json:"seq"`
	SubjectID   string `json:"subject_id"`
	SubjectType string `json:"subject_type"`
	TenantID    string `json:"tenant_id"`
	Version     string `json:"v"`
}

// ComputeEntryHash は SHA-256(prev_hash || canonical(entry)) を16進で返す。
func ComputeEntryHash(e *domain.AuditEntry) (string, error) {
	if !json.Valid(e.Payload) {
		return "", fmt.Errorf("%w: payload is not valid JSON", domain.ErrInvalidAuditEvent)
	}
	canonical, err := json.Marshal(chainRecord{
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		EventType:   e.EventType,
		Payload:     string(e.Payload),
		Seq:         e.Seq,
		SubjectID:   e.Subject.ID,
		SubjectType: string(e.Subject.Type),
		TenantID:    e.TenantID,
		Version:     domain.AuditChainVersion,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalizing entry: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
