package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"esign-trust-service/internal/domain"
	"esign-trust-service/pkg/httputil"
)

// MaxDocumentBytes は1文書の上限サイズ。
const MaxDocumentBytes = 32 << 20

// DocumentStore は暗号化文書の保存・取得。
type DocumentStore interface {
	Store(ctx context.Context, tenantID, documentID, processID string, content []byte) (*domain.Document, error)
	Load(ctx context.Context, tenantID, documentID string) ([]byte, *domain.Document, error)
	DocumentHash(ctx context.Context, tenantID, documentID string) (string, error)
}

// DocumentHandler は文書APIのハンドラ。
type DocumentHandler struct {
	service DocumentStore
}

// NewDocumentHandler は新しいDocumentHandlerを生成する。
func NewDocumentHandler(service DocumentStore) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// DocumentResponse は保存結果のレスポンス形式。
type DocumentResponse struct {
	TenantID    string `json:"tenant_id"`
	DocumentID  string `json:"document_id"`
	ProcessID   string `json:"process_id,omitempty"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
}

// PutDocument はリクエストボディをそのまま文書として暗号化保存する。
// 署名プロセスは X-Process-ID ヘッダーで指定する。
func (h *DocumentHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	documentID := chi.URLParam(r, "document_id")

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE", "document exceeds "+strconv.Itoa(MaxDocumentBytes)+" bytes")
			return
		}
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body")
		return
	}
	if len(content) == 0 {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "document body is empty")
		return
	}

	doc, err := h.service.Store(r.Context(), tenantID, documentID, r.Header.Get("X-Process-ID"), content)
	if err != nil {
		writeError(w, r, "put_document", err)
		return
	}
	httputil.JSON(w, http.StatusCreated, DocumentResponse{
		TenantID:    doc.TenantID,
		DocumentID:  doc.DocumentID,
		ProcessID:   doc.ProcessID,
		ContentHash: doc.ContentHash,
		Size:        doc.Size,
	})
}

// GetDocument は復号した文書を返す。
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	documentID := chi.URLParam(r, "document_id")

	content, doc, err := h.service.Load(r.Context(), tenantID, documentID)
	if err != nil {
		writeError(w, r, "get_document", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("X-Content-SHA256", doc.ContentHash)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// DocumentHashResponse は保存済みハッシュのレスポンス形式。
type DocumentHashResponse struct {
	DocumentID  string `json:"document_id"`
	ContentHash string `json:"content_hash"`
}

// GetDocumentHash は保存時に記録したハッシュを返す。
func (h *DocumentHandler) GetDocumentHash(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	documentID := chi.URLParam(r, "document_id")

	hash, err := h.service.DocumentHash(r.Context(), tenantID, documentID)
	if err != nil {
		writeError(w, r, "get_document_hash", err)
		return
	}
	httputil.JSON(w, http.StatusOK, DocumentHashResponse{DocumentID: documentID, ContentHash: hash})
}
