package domain

import (
	"encoding/json"
	"time"
)

// SubjectType は監査イベントの対象種別。
type SubjectType string

const (
	SubjectSigner   SubjectType = "signer"
	SubjectProcess  SubjectType = "process"
	SubjectTenant   SubjectType = "tenant"
	SubjectDocument SubjectType = "document"
)

// Subject は監査イベントの対象。
type Subject struct {
	Type SubjectType
	ID   string
}

// AuditSystemTenantID はテナントに属さないイベントのチェーン。
const AuditSystemTenantID = "_system"

// AuditGenesisHash はチェーン先頭エントリの previous hash。
const AuditGenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditChainVersion はハッシュ対象の正規化形式のバージョン。
const AuditChainVersion = "1"

// 監査イベント種別
const (
	EventOtpRequested   = "otp.requested"
	EventOtpRateLimited = "otp.rate_limited"
	EventOtpVerified    = "otp.verified"
	EventOtpFailed      = "otp.failed"
	EventOtpExpired     = "otp.expired"
	EventOtpMaxAttempts = "otp.max_attempts_exceeded"
	EventOtpNotFound    = "otp.not_found"
	EventOtpReplayed    = "otp.already_verified"

	EventKeyCreated  = "key.created"
	EventKeyRotated  = "key.rotated"
	EventKeyDisabled = "key.disabled"

	EventDocumentEncrypted       = "document.encrypted"
	EventDocumentIntegrityFailed = "document.integrity_failed"

	EventTsaTimestamped = "tsa.timestamped"
	EventConsentGiven   = "consent.given"
	EventProcessSigned  = "process.signed"
)

// AuditEntry は追記専用のハッシュチェーン上の1レコード。
type AuditEntry struct {
	ID        string
	TenantID  string
	Seq       int64
	Subject   Subject
	EventType string
	Payload   json.RawMessage // 正規化済みJSON
	PrevHash  string
	Hash      string
	CreatedAt time.Time
}

// ChainError はチェーン検証で見つかった不整合。
type ChainError struct {
	Seq     int64  `json:"seq"`
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// ChainVerification はチェーン検証の結果。
type ChainVerification struct {
	TenantID        string       `json:"tenant_id"`
	Valid           bool         `json:"valid"`
	EntriesVerified int          `json:"entries_verified"`
	Errors          []ChainError `json:"errors"`
}
