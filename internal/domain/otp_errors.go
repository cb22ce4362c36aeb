package domain

import "errors"

// OtpErrorKind はOTP操作の想定内の失敗種別。
type OtpErrorKind int

const (
	OtpRateLimitExceeded OtpErrorKind = iota + 1
	OtpNotFound
	OtpExpired
	OtpAlreadyVerified
	OtpMaxAttemptsExceeded
	OtpInvalidCode
)

var otpKindNames = map[OtpErrorKind]string{
	OtpRateLimitExceeded:   "rate_limit_exceeded",
	OtpNotFound:            "not_found",
	OtpExpired:             "expired",
	OtpAlreadyVerified:     "already_verified",
	OtpMaxAttemptsExceeded: "max_attempts_exceeded",
	OtpInvalidCode:         "invalid_code",
}

// String は種別のスネークケース名を返す。
func (k OtpErrorKind) String() string {
	if name, ok := otpKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// OtpError はOTP操作の結果種別を表すエラー。
// Detail は境界で表示用メッセージを選ぶための補足で、プロトコル上の種別は Kind のみ。
type OtpError struct {
	Kind   OtpErrorKind
	Detail string
}

func (e *OtpError) Error() string {
	if e.Detail != "" {
		return "otp: " + e.Kind.String() + ": " + e.Detail
	}
	return "otp: " + e.Kind.String()
}

// Is は種別が一致すれば同一のエラーとみなす。
func (e *OtpError) Is(target error) bool {
	t, ok := target.(*OtpError)
	return ok && t.Kind == e.Kind
}

var (
	ErrOtpRateLimitExceeded   = &OtpError{Kind: OtpRateLimitExceeded}
	ErrOtpNotFound            = &OtpError{Kind: OtpNotFound}
	ErrOtpExpired             = &OtpError{Kind: OtpExpired}
	ErrOtpAlreadyVerified     = &OtpError{Kind: OtpAlreadyVerified}
	ErrOtpMaxAttemptsExceeded = &OtpError{Kind: OtpMaxAttemptsExceeded}
	ErrOtpInvalidCode         = &OtpError{Kind: OtpInvalidCode}
)

// OtpError.Detail の値。いずれも種別は OtpInvalidCode。
const (
	OtpDetailEmpty       = "empty"
	OtpDetailWrongLength = "wrong_length"
	OtpDetailNotNumeric  = "not_numeric"
	OtpDetailWrongValue  = "wrong_value"
)

// NewInvalidCodeError は表示用の補足付きで OtpInvalidCode を返す。
func NewInvalidCodeError(detail string) error {
	return &OtpError{Kind: OtpInvalidCode, Detail: detail}
}

// OtpErrorKindOf は err がOTP結果エラーであればその種別を返す。
func OtpErrorKindOf(err error) (OtpErrorKind, bool) {
	var oe *OtpError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return 0, false
}
