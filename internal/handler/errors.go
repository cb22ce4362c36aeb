package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"esign-trust-service/internal/domain"
	"esign-trust-service/pkg/httputil"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// ドメインエラーとHTTPステータス・エラーコードの対応。上から順に評価する。
var errorMappings = []errorMapping{
	{domain.ErrInvalidTenantID, http.StatusBadRequest, "INVALID_TENANT_ID", "invalid tenant ID format"},
	{domain.ErrTenantContextMissing, http.StatusBadRequest, "TENANT_CONTEXT_MISSING", "tenant ID is required"},
	{domain.ErrInvalidGeneration, http.StatusBadRequest, "INVALID_GENERATION", "invalid generation number"},
	{domain.ErrInvalidAuditEvent, http.StatusBadRequest, "INVALID_AUDIT_EVENT", "invalid audit event"},
	{domain.ErrKeyAlreadyExists, http.StatusConflict, "KEY_ALREADY_EXISTS", "key already exists for this tenant"},
	{domain.ErrKeyAlreadyDisabled, http.StatusConflict, "KEY_ALREADY_DISABLED", "key generation is already disabled"},
	{domain.ErrKeyNotFound, http.StatusNotFound, "KEY_NOT_FOUND", "key not found for this tenant"},
	{domain.ErrKeyDisabled, http.StatusGone, "KEY_DISABLED", "key has been disabled"},
	{domain.ErrDocumentNotFound, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found"},
	{domain.ErrIntegrityCheckFailed, http.StatusUnprocessableEntity, "INTEGRITY_CHECK_FAILED", "stored document failed integrity check"},
	{domain.ErrInvalidFormat, http.StatusUnprocessableEntity, "INVALID_ENVELOPE", "stored document is not a valid envelope"},
	{domain.ErrOtpRateLimitExceeded, http.StatusTooManyRequests, "OTP_RATE_LIMIT_EXCEEDED", "too many codes requested, try again later"},
	{domain.ErrOtpNotFound, http.StatusNotFound, "OTP_NOT_FOUND", "no code has been requested"},
	{domain.ErrOtpExpired, http.StatusGone, "OTP_EXPIRED", "code has expired, request a new one"},
	{domain.ErrOtpAlreadyVerified, http.StatusConflict, "OTP_ALREADY_VERIFIED", "code has already been used"},
	{domain.ErrOtpMaxAttemptsExceeded, http.StatusForbidden, "OTP_MAX_ATTEMPTS_EXCEEDED", "too many incorrect attempts, request a new code"},
	{domain.ErrConcurrentUpdate, http.StatusConflict, "CONCURRENT_UPDATE", "request conflicted with another update, retry"},
	{domain.ErrLockNotAcquired, http.StatusServiceUnavailable, "BUSY", "resource is busy, retry"},
}

// otpInvalidMessages は不正コードの補足ごとの表示文言。
var otpInvalidMessages = map[string]string{
	domain.OtpDetailEmpty:       "code is required",
	domain.OtpDetailWrongLength: "code has the wrong number of digits",
	domain.OtpDetailNotNumeric:  "code must contain digits only",
	domain.OtpDetailWrongValue:  "code is incorrect",
}

// writeError はエラーを対応するHTTPレスポンスに変換する。対応の無いエラーは500として扱い詳細は返さない。
func writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	var oe *domain.OtpError
	if errors.As(err, &oe) && oe.Kind == domain.OtpInvalidCode {
		msg, ok := otpInvalidMessages[oe.Detail]
		if !ok {
			msg = "code is incorrect"
		}
		httputil.Error(w, http.StatusUnprocessableEntity, "OTP_INVALID_CODE", msg)
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			httputil.Error(w, m.status, m.code, m.message)
			return
		}
	}
	slog.ErrorContext(r.Context(), "request failed",
		"operation", operation,
		"error", err,
	)
	httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}
