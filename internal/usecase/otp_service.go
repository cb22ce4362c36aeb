package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/obs"
)

// OtpRepository はOTPコードの永続化を提供する。
type OtpRepository interface {
	// CountCreatedSince は since 以降に作成された署名者のコード数を返す（置き換え済みも含む）。
	CountCreatedSince(ctx context.Context, tenantID, signerID string, since time.Time) (int64, error)
	// ReplaceActive は未検証のコードをすべて置き換え済みにし、code を保存する。両者は1トランザクションで行う。
	ReplaceActive(ctx context.Context, code *domain.OtpCode, supersededAt time.Time) error
	// FindLatest は置き換え済みでない最新のコードを返す。無ければ nil。
	FindLatest(ctx context.Context, tenantID, signerID string) (*domain.OtpCode, error)
	// IncrementAttempts は version が一致する場合のみ試行回数を1増やす。
	IncrementAttempts(ctx context.Context, id string, version int) error
	// MarkVerified は version が一致する場合のみ検証済みにする。
	MarkVerified(ctx context.Context, id string, verifiedAt time.Time, version int) error
	// ExistsVerified は署名者に検証済みのコードが1つでもあるかを返す。
	ExistsVerified(ctx context.Context, tenantID, signerID string) (bool, error)
	// DeleteExpiredBefore は before より前に期限切れになったコードを削除する。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// CodeGenerator はコードの生成とハッシュ照合を提供する。
type CodeGenerator interface {
	Generate(length int) (string, error)
	Hash(code string) (string, error)
	Verify(code, hash string) bool
}

// Notifier は平文コードの配送を非同期で依頼する。配送完了は待たない。
type Notifier interface {
	Enqueue(ctx context.Context, signer domain.SignerRef, code string) error
}

// AuditRecorder は監査イベントを記録する。
type AuditRecorder interface {
	Record(ctx context.Context, tenantID string, subject domain.Subject, eventType string, payload map[string]any) (*domain.AuditEntry, error)
}

// OtpPolicy はOTPの数値ポリシー。
type OtpPolicy struct {
	CodeLength       int
	Expiry           time.Duration
	MaxAttempts      int
	RateLimitPerHour int
}

// DefaultOtpPolicy は既定のポリシーを返す。
func DefaultOtpPolicy() OtpPolicy {
	return OtpPolicy{
		CodeLength:       6,
		Expiry:           10 * time.Minute,
		MaxAttempts:      5,
		RateLimitPerHour: 3,
	}
}

const otpRateWindow = time.Hour

// OtpService は署名者ごとのOTPのライフサイクルを管理する。
// 読み込み・変更・保存は署名者単位のロック内で行い、更新は楽観ロックでも保護する。
type OtpService struct {
	repo     OtpRepository
	codes    CodeGenerator
	notifier Notifier
	audit    AuditRecorder
	locker   Locker
	policy   OtpPolicy
	now      func() time.Time
}

// NewOtpService は新しいOtpServiceを生成する。
func NewOtpService(repo OtpRepository, codes CodeGenerator, notifier Notifier, audit AuditRecorder, locker Locker, policy OtpPolicy) *OtpService {
	return &OtpService{
		repo:     repo,
		codes:    codes,
		notifier: notifier,
		audit:    audit,
		locker:   locker,
		policy:   policy,
		now:      time.Now,
	}
}

// WithClock はテスト用に時刻関数を差し替える。
func (s *OtpService) WithClock(now func() time.Time) *OtpService {
	s.now = now
	return s
}

// Generate は新しいコードを発行する。直近1時間の発行数が上限に達していれば発行しない。
func (s *OtpService) Generate(ctx context.Context, signer domain.SignerRef) (*domain.OtpIssue, error) {
	if err := validateSigner(signer); err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, signer.LockKey())
	if err != nil {
		return nil, fmt.Errorf("locking signer: %w", err)
	}
	defer unlock()

	now := s.now().UTC()
	count, err := s.repo.CountCreatedSince(ctx, signer.TenantID, signer.SignerID, now.Add(-otpRateWindow))
	if err != nil {
		return nil, fmt.Errorf("counting recent codes: %w", err)
	}
	if count >= int64(s.policy.RateLimitPerHour) {
		obs.OtpOutcomes.WithLabelValues("generate", "rate_limited").Inc()
		return nil, s.outcome(ctx, signer, domain.ErrOtpRateLimitExceeded, domain.EventOtpRateLimited, map[string]any{
			"requests_in_window": count,
			"limit":              s.policy.RateLimitPerHour,
		})
	}

	code, err := s.codes.Generate(s.policy.CodeLength)
	if err != nil {
		return nil, err
	}
	hash, err := s.codes.Hash(code)
	if err != nil {
		return nil, err
	}
	record := &domain.OtpCode{
		TenantID:  signer.TenantID,
		SignerID:  signer.SignerID,
		ProcessID: signer.ProcessID,
		CodeHash:  hash,
		ExpiresAt: now.Add(s.policy.Expiry),
		CreatedAt: now,
	}
	if err := s.repo.ReplaceActive(ctx, record, now); err != nil {
		return nil, fmt.Errorf("storing code: %w", err)
	}

	// 監査に残せないコードは配送しない
	if _, err := s.audit.Record(ctx, signer.TenantID, signerSubject(signer), domain.EventOtpRequested, s.payload(signer, record, map[string]any{
		"expires_at": record.ExpiresAt.Format(time.RFC3339),
	})); err != nil {
		return nil, fmt.Errorf("recording audit event: %w", err)
	}

	if err := s.notifier.Enqueue(ctx, signer, code); err != nil {
		// 配送は別系統で再送されるためここでは失敗させない
		slog.WarnContext(ctx, "failed to enqueue otp delivery",
			"operation", "otp_generate",
			"tenant_id", signer.TenantID,
			"signer_id", signer.SignerID,
			"error", err,
		)
	}
	obs.OtpOutcomes.WithLabelValues("generate", "issued").Inc()
	return &domain.OtpIssue{Code: code, Record: record}, nil
}

// Verify は提出されたコードを照合する。成功時は nil を返す。
// 失敗は *domain.OtpError として返し、試行回数の更新は返却前に確定させる。
func (s *OtpService) Verify(ctx context.Context, signer domain.SignerRef, submitted string) error {
	if err := validateSigner(signer); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, signer.LockKey())
	if err != nil {
		return fmt.Errorf("locking signer: %w", err)
	}
	defer unlock()

	code, err := s.repo.FindLatest(ctx, signer.TenantID, signer.SignerID)
	if err != nil {
		return fmt.Errorf("finding code: %w", err)
	}
	if code == nil {
		obs.OtpOutcomes.WithLabelValues("verify", "not_found").Inc()
		return s.outcome(ctx, signer, domain.ErrOtpNotFound, domain.EventOtpNotFound, nil)
	}

	now := s.now().UTC()
	if code.IsExpired(now) {
		obs.OtpOutcomes.WithLabelValues("verify", "expired").Inc()
		return s.outcome(ctx, signer, domain.ErrOtpExpired, domain.EventOtpExpired, s.payload(signer, code, nil))
	}
	if code.IsVerified() {
		obs.OtpOutcomes.WithLabelValues("verify", "already_verified").Inc()
		return s.outcome(ctx, signer, domain.ErrOtpAlreadyVerified, domain.EventOtpReplayed, s.payload(signer, code, nil))
	}
	if code.Attempts >= s.policy.MaxAttempts {
		obs.OtpOutcomes.WithLabelValues("verify", "max_attempts").Inc()
		return s.outcome(ctx, signer, domain.ErrOtpMaxAttemptsExceeded, domain.EventOtpMaxAttempts, s.payload(signer, code, map[string]any{
			"attempts": code.Attempts,
		}))
	}

	submitted = strings.TrimSpace(submitted)
	if detail := s.malformed(submitted); detail != "" {
		// 形式エラーは照合前に弾き、試行回数には数えない
		obs.OtpOutcomes.WithLabelValues("verify", "malformed").Inc()
		return s.outcome(ctx, signer, domain.NewInvalidCodeError(detail), domain.EventOtpFailed, s.payload(signer, code, map[string]any{
			"reason": detail,
		}))
	}

	if !s.codes.Verify(submitted, code.CodeHash) {
		if err := s.repo.IncrementAttempts(ctx, code.ID, code.Version); err != nil {
			return fmt.Errorf("incrementing attempts: %w", err)
		}
		obs.OtpOutcomes.WithLabelValues("verify", "invalid_code").Inc()
		return s.outcome(ctx, signer, domain.NewInvalidCodeError(domain.OtpDetailWrongValue), domain.EventOtpFailed, s.payload(signer, code, map[string]any{
			"reason":   "invalid_code",
			"attempts": code.Attempts + 1,
		}))
	}

	if err := s.repo.MarkVerified(ctx, code.ID, now, code.Version); err != nil {
		return fmt.Errorf("marking code verified: %w", err)
	}
	if _, err := s.audit.Record(ctx, signer.TenantID, signerSubject(signer), domain.EventOtpVerified, s.payload(signer, code, nil)); err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	obs.OtpOutcomes.WithLabelValues("verify", "verified").Inc()
	return nil
}

// CanRequest はレート制限に達していないかを返す。副作用は無い。
func (s *OtpService) CanRequest(ctx context.Context, signer domain.SignerRef) (bool, error) {
	if err := validateSigner(signer); err != nil {
		return false, err
	}
	count, err := s.repo.CountCreatedSince(ctx, signer.TenantID, signer.SignerID, s.now().UTC().Add(-otpRateWindow))
	if err != nil {
		return false, fmt.Errorf("counting recent codes: %w", err)
	}
	return count < int64(s.policy.RateLimitPerHour), nil
}

// HasVerified は署名者のコードが一度でも検証済みになったかを返す。
func (s *OtpService) HasVerified(ctx context.Context, signer domain.SignerRef) (bool, error) {
	if err := validateSigner(signer); err != nil {
		return false, err
	}
	ok, err := s.repo.ExistsVerified(ctx, signer.TenantID, signer.SignerID)
	if err != nil {
		return false, fmt.Errorf("checking verified codes: %w", err)
	}
	return ok, nil
}

// Status は署名UI向けに現在の状況をまとめて返す。
func (s *OtpService) Status(ctx context.Context, signer domain.SignerRef) (*domain.OtpStatus, error) {
	canRequest, err := s.CanRequest(ctx, signer)
	if err != nil {
		return nil, err
	}
	verified, err := s.HasVerified(ctx, signer)
	if err != nil {
		return nil, err
	}
	status := &domain.OtpStatus{State: domain.OtpStateNone, CanRequest: canRequest, HasVerified: verified}

	code, err := s.repo.FindLatest(ctx, signer.TenantID, signer.SignerID)
	if err != nil {
		return nil, fmt.Errorf("finding code: %w", err)
	}
	if code != nil {
		status.State = code.State(s.now().UTC(), s.policy.MaxAttempts)
		if status.State == domain.OtpStateIssued {
			expiresAt := code.ExpiresAt
			status.ExpiresAt = &expiresAt
			status.AttemptsRemaining = s.policy.MaxAttempts - code.Attempts
		}
	}
	return status, nil
}

// PurgeExpired は retention より前に期限切れになったコードを削除する。
func (s *OtpService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteExpiredBefore(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purging expired codes: %w", err)
	}
	return n, nil
}

// malformed は空・桁数違い・数字以外を判定し、問題があれば補足を返す。
func (s *OtpService) malformed(code string) string {
	if code == "" {
		return domain.OtpDetailEmpty
	}
	if len(code) != s.policy.CodeLength {
		return domain.OtpDetailWrongLength
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return domain.OtpDetailNotNumeric
		}
	}
	return ""
}

// outcome は想定内の失敗を監査に記録して返す。記録に失敗した場合は両方のエラーを返す。
func (s *OtpService) outcome(ctx context.Context, signer domain.SignerRef, result error, eventType string, payload map[string]any) error {
	if payload == nil {
		payload = s.payload(signer, nil, nil)
	}
	if _, err := s.audit.Record(ctx, signer.TenantID, signerSubject(signer), eventType, payload); err != nil {
		return errors.Join(result, fmt.Errorf("recording audit event: %w", err))
	}
	return result
}

func (s *OtpService) payload(signer domain.SignerRef, code *domain.OtpCode, extra map[string]any) map[string]any {
	p := map[string]any{
		"signer_id":  signer.SignerID,
		"process_id": signer.ProcessID,
	}
	if code != nil {
		p["otp_id"] = code.ID
		if signer.ProcessID == "" {
			p["process_id"] = code.ProcessID
		}
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func validateSigner(signer domain.SignerRef) error {
	if signer.TenantID == "" {
		return domain.ErrTenantContextMissing
	}
	if signer.SignerID == "" {
		return errors.New("signer id is required")
	}
	return nil
}

func signerSubject(signer domain.SignerRef) domain.Subject {
	return domain.Subject{Type: domain.SubjectSigner, ID: signer.SignerID}
}
