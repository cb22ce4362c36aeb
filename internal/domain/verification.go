package domain

// ConfidenceLevel は信頼度スコアの段階。
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// 検証チェック名
const (
	CheckDocumentHash       = "document_hash"
	CheckChainIntegrity     = "chain_integrity"
	CheckTimestampAuthority = "timestamp_authority"
	CheckOtpVerified        = "otp_verified"
	CheckConsent            = "consent"
	CheckSignatureRecorded  = "signature_recorded"
	CheckGeolocation        = "geolocation"
)

// Check は1つの検証項目の結果。
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Confidence は0〜100のスコアと段階。
type Confidence struct {
	Score int             `json:"score"`
	Level ConfidenceLevel `json:"level"`
}

// VerificationResult は公開検証の応答。永続化しない。
type VerificationResult struct {
	Valid      bool       `json:"valid"`
	Confidence Confidence `json:"confidence"`
	Checks     []Check    `json:"checks"`
}
