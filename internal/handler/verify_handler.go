package handler

import (
	"context"
	"net/http"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/usecase"
	"esign-trust-service/pkg/httputil"
)

// DocumentVerifier は公開検証を行う。
type DocumentVerifier interface {
	Verify(ctx context.Context, req usecase.VerifyRequest) (*domain.VerificationResult, error)
}

// VerifyHandler は公開検証APIのハンドラ。認証は行わない。
type VerifyHandler struct {
	verifier DocumentVerifier
}

// NewVerifyHandler は新しいVerifyHandlerを生成する。
func NewVerifyHandler(verifier DocumentVerifier) *VerifyHandler {
	return &VerifyHandler{verifier: verifier}
}

// PublicVerifyRequest は公開検証のリクエスト形式。
type PublicVerifyRequest struct {
	TenantID     string `json:"tenant_id"`
	DocumentID   string `json:"document_id"`
	DocumentHash string `json:"document_hash"`
}

// Verify は文書ハッシュと監査証跡から信頼度を返す。
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req PublicVerifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := usecase.ValidateTenantID(req.TenantID); err != nil {
		writeError(w, r, "public_verify", err)
		return
	}
	if req.DocumentID == "" || req.DocumentHash == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "document_id and document_hash are required")
		return
	}

	result, err := h.verifier.Verify(r.Context(), usecase.VerifyRequest{
		TenantID:     req.TenantID,
		DocumentID:   req.DocumentID,
		DocumentHash: req.DocumentHash,
	})
	if err != nil {
		writeError(w, r, "public_verify", err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}
