package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/middleware"
	"esign-trust-service/pkg/httputil"
)

// OtpManager は署名者OTPの発行・照合。
type OtpManager interface {
	Generate(ctx context.Context, signer domain.SignerRef) (*domain.OtpIssue, error)
	Verify(ctx context.Context, signer domain.SignerRef, submitted string) error
	Status(ctx context.Context, signer domain.SignerRef) (*domain.OtpStatus, error)
}

// OtpHandler はOTP APIのハンドラ。
type OtpHandler struct {
	service OtpManager
}

// NewOtpHandler は新しいOtpHandlerを生成する。
func NewOtpHandler(service OtpManager) *OtpHandler {
	return &OtpHandler{service: service}
}

// OtpRequest はコード発行のリクエスト形式。
type OtpRequest struct {
	ProcessID string `json:"process_id"`
	Email     string `json:"email"`
}

// OtpIssuedResponse は発行結果。コードは通知経路でのみ届ける。
type OtpIssuedResponse struct {
	SignerID  string `json:"signer_id"`
	ExpiresAt string `json:"expires_at"`
}

// OtpVerifyRequest は照合のリクエスト形式。
type OtpVerifyRequest struct {
	ProcessID string `json:"process_id"`
	Code      string `json:"code"`
}

// OtpVerifyResponse は照合結果。
type OtpVerifyResponse struct {
	Verified bool `json:"verified"`
}

// OtpStatusResponse は署名UI向けの状況。
type OtpStatusResponse struct {
	State             string  `json:"state"`
	CanRequest        bool    `json:"can_request"`
	HasVerified       bool    `json:"has_verified"`
	ExpiresAt         *string `json:"expires_at,omitempty"`
	AttemptsRemaining int     `json:"attempts_remaining"`
}

func (h *OtpHandler) signer(w http.ResponseWriter, r *http.Request) (domain.SignerRef, bool) {
	signer := domain.SignerRef{
		TenantID: chi.URLParam(r, "tenant_id"),
		SignerID: chi.URLParam(r, "signer_id"),
	}
	if !middleware.CanActAsSigner(r.Context(), signer.SignerID) {
		httputil.Error(w, http.StatusForbidden, "FORBIDDEN", "token is not valid for this signer")
		return signer, false
	}
	return signer, true
}

// RequestCode はコードを発行し、配送を依頼する。
func (h *OtpHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.signer(w, r)
	if !ok {
		return
	}
	var req OtpRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	signer.ProcessID = req.ProcessID
	signer.Email = req.Email

	issue, err := h.service.Generate(r.Context(), signer)
	if err != nil {
		writeError(w, r, "request_otp", err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, OtpIssuedResponse{
		SignerID:  signer.SignerID,
		ExpiresAt: issue.Record.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// VerifyCode は提出されたコードを照合する。
func (h *OtpHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.signer(w, r)
	if !ok {
		return
	}
	var req OtpVerifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	signer.ProcessID = req.ProcessID

	if err := h.service.Verify(r.Context(), signer, req.Code); err != nil {
		writeError(w, r, "verify_otp", err)
		return
	}
	httputil.JSON(w, http.StatusOK, OtpVerifyResponse{Verified: true})
}

// GetStatus は署名者のOTP状況を返す。
func (h *OtpHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.signer(w, r)
	if !ok {
		return
	}
	status, err := h.service.Status(r.Context(), signer)
	if err != nil {
		writeError(w, r, "otp_status", err)
		return
	}
	resp := OtpStatusResponse{
		State:             string(status.State),
		CanRequest:        status.CanRequest,
		HasVerified:       status.HasVerified,
		AttemptsRemaining: status.AttemptsRemaining,
	}
	if status.ExpiresAt != nil {
		s := status.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	httputil.JSON(w, http.StatusOK, resp)
}
