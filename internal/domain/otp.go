package domain

import "time"

// SignerRef は署名者への参照を表す。テナントは常に明示的に渡す。
type SignerRef struct {
	TenantID  string
	SignerID  string
	ProcessID string
	Email     string
}

// LockKey は署名者単位の排他に使うキーを返す。
func (s SignerRef) LockKey() string {
	return "otp:" + s.TenantID + ":" + s.SignerID
}

// OtpState は署名者の最新コードの状態を表す。
type OtpState string

const (
	OtpStateNone       OtpState = "none"
	OtpStateIssued     OtpState = "issued"
	OtpStateVerified   OtpState = "verified"
	OtpStateExpired    OtpState = "expired"
	OtpStateExhausted  OtpState = "exhausted"
	OtpStateSuperseded OtpState = "superseded"
)

// OtpCode は発行済みのワンタイムパスコードを表す。平文のコードは保持しない。
type OtpCode struct {
	ID           string
	TenantID     string
	SignerID     string
	ProcessID    string
	CodeHash     string
	ExpiresAt    time.Time
	Attempts     int
	VerifiedAt   *time.Time
	SupersededAt *time.Time
	Version      int // 楽観ロック用
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsVerified は検証済みかどうかを返す。
func (c *OtpCode) IsVerified() bool {
	return c.VerifiedAt != nil
}

// IsExpired は now 時点で有効期限を過ぎているかを返す。
func (c *OtpCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// State は now 時点の状態を返す。
func (c *OtpCode) State(now time.Time, maxAttempts int) OtpState {
	switch {
	case c.IsVerified():
		return OtpStateVerified
	case c.SupersededAt != nil:
		return OtpStateSuperseded
	case c.IsExpired(now):
		return OtpStateExpired
	case c.Attempts >= maxAttempts:
		return OtpStateExhausted
	default:
		return OtpStateIssued
	}
}

// OtpIssue は発行結果。Code は配送のためだけに呼び出し元へ返す。
type OtpIssue struct {
	Code   string
	Record *OtpCode
}

// OtpStatus は署名UIの表示に使う署名者のOTP状況。
type OtpStatus struct {
	State             OtpState
	CanRequest        bool
	HasVerified       bool
	ExpiresAt         *time.Time
	AttemptsRemaining int
}
