// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/middleware"
	"esign-trust-service/internal/usecase"
	"esign-trust-service/pkg/httputil"
)

// KeyManager はテナント鍵世代の管理操作。
type KeyManager interface {
	CreateKey(ctx context.Context, tenantID string) (*domain.KeyMetadata, error)
	RotateKey(ctx context.Context, tenantID string) (*domain.KeyMetadata, error)
	ListKeys(ctx context.Context, tenantID string) ([]*domain.KeyMetadata, error)
	DisableKey(ctx context.Context, tenantID string, generation uint) error
}

// KeyHandler は鍵世代APIのハンドラ。
type KeyHandler struct {
	service KeyManager
}

// NewKeyHandler は新しいKeyHandlerを生成する。
func NewKeyHandler(service KeyManager) *KeyHandler {
	return &KeyHandler{service: service}
}

func validateGeneration(genStr string) (uint, error) {
	gen, err := strconv.ParseUint(genStr, 10, 32)
	if err != nil || gen < 1 {
		return 0, domain.ErrInvalidGeneration
	}
	return uint(gen), nil
}

// KeyMetadataResponse は鍵メタデータのレスポンス形式。鍵素材は返さない。
type KeyMetadataResponse struct {
	TenantID   string `json:"tenant_id"`
	Generation uint   `json:"generation"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// KeyListResponse は鍵一覧のレスポンス形式。
type KeyListResponse struct {
	Keys []KeyMetadataResponse `json:"keys"`
}

func toKeyMetadataResponse(m *domain.KeyMetadata) KeyMetadataResponse {
	return KeyMetadataResponse{
		TenantID:   m.TenantID,
		Generation: m.Generation,
		Status:     string(m.Status),
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateKey はテナントの第1世代を登録する。
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if err := usecase.ValidateTenantID(tenantID); err != nil {
		writeError(w, r, "create_key", err)
		return
	}

	metadata, err := h.service.CreateKey(r.Context(), tenantID)
	if err != nil {
		middleware.LogOperation(r.Context(), "CREATE_KEY", tenantID, middleware.ResultFailed)
		writeError(w, r, "create_key", err)
		return
	}

	middleware.LogOperation(r.Context(), "CREATE_KEY", tenantID, middleware.ResultSuccess, "generation", metadata.Generation)
	httputil.JSON(w, http.StatusCreated, toKeyMetadataResponse(metadata))
}

// RotateKey は新しい世代を作成する。
func (h *KeyHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if err := usecase.ValidateTenantID(tenantID); err != nil {
		writeError(w, r, "rotate_key", err)
		return
	}

	metadata, err := h.service.RotateKey(r.Context(), tenantID)
	if err != nil {
		middleware.LogOperation(r.Context(), "ROTATE_KEY", tenantID, middleware.ResultFailed)
		writeError(w, r, "rotate_key", err)
		return
	}

	middleware.LogOperation(r.Context(), "ROTATE_KEY", tenantID, middleware.ResultSuccess, "generation", metadata.Generation)
	httputil.JSON(w, http.StatusCreated, toKeyMetadataResponse(metadata))
}

// ListKeys は世代一覧を返す。
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if err := usecase.ValidateTenantID(tenantID); err != nil {
		writeError(w, r, "list_keys", err)
		return
	}

	keys, err := h.service.ListKeys(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, "list_keys", err)
		return
	}

	resp := KeyListResponse{Keys: make([]KeyMetadataResponse, 0, len(keys))}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, toKeyMetadataResponse(k))
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// DisableKey は指定された世代を無効化する。
func (h *KeyHandler) DisableKey(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if err := usecase.ValidateTenantID(tenantID); err != nil {
		writeError(w, r, "disable_key", err)
		return
	}
	generation, err := validateGeneration(chi.URLParam(r, "generation"))
	if err != nil {
		writeError(w, r, "disable_key", err)
		return
	}

	if err := h.service.DisableKey(r.Context(), tenantID, generation); err != nil {
		middleware.LogOperation(r.Context(), "DISABLE_KEY", tenantID, middleware.ResultFailed, "generation", generation)
		writeError(w, r, "disable_key", err)
		return
	}

	middleware.LogOperation(r.Context(), "DISABLE_KEY", tenantID, middleware.ResultSuccess, "generation", generation)
	w.WriteHeader(http.StatusNoContent)
}
