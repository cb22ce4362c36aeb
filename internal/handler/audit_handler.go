package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"esign-trust-service/internal/domain"
	"esign-trust-service/pkg/httputil"
)

// AuditTrail は監査チェーンへの記録と検証。
type AuditTrail interface {
	Record(ctx context.Context, tenantID string, subject domain.Subject, eventType string, payload map[string]any) (*domain.AuditEntry, error)
	VerifyChain(ctx context.Context, tenantID string) (*domain.ChainVerification, error)
}

// サービス自身が記録するイベントの名前空間。APIからは記録させない。
var reservedEventPrefixes = []string{"otp.", "key.", "document."}

var allowedSubjectTypes = map[domain.SubjectType]bool{
	domain.SubjectSigner:   true,
	domain.SubjectProcess:  true,
	domain.SubjectTenant:   true,
	domain.SubjectDocument: true,
}

// AuditHandler は監査APIのハンドラ。
type AuditHandler struct {
	audit AuditTrail
}

// NewAuditHandler は新しいAuditHandlerを生成する。
func NewAuditHandler(audit AuditTrail) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// AuditEventRequest は監査イベント記録のリクエスト形式。
type AuditEventRequest struct {
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
}

// AuditEntryResponse は記録されたエントリ。
type AuditEntryResponse struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	EventType   string `json:"event_type"`
	PrevHash    string `json:"prev_hash"`
	Hash        string `json:"hash"`
	CreatedAt   string `json:"created_at"`
}

// RecordEvent は外部で発生した署名プロセスのイベントをテナントのチェーンに記録する。
func (h *AuditHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")

	var req AuditEventRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	subjectType := domain.SubjectType(req.SubjectType)
	if !allowedSubjectTypes[subjectType] {
		httputil.Error(w, http.StatusBadRequest, "INVALID_AUDIT_EVENT", "unknown subject type")
		return
	}
	for _, prefix := range reservedEventPrefixes {
		if strings.HasPrefix(req.EventType, prefix) {
			httputil.Error(w, http.StatusBadRequest, "RESERVED_EVENT_TYPE", "event type is reserved for the service")
			return
		}
	}

	entry, err := h.audit.Record(r.Context(), tenantID, domain.Subject{Type: subjectType, ID: req.SubjectID}, req.EventType, req.Payload)
	if err != nil {
		writeError(w, r, "record_audit_event", err)
		return
	}
	httputil.JSON(w, http.StatusCreated, AuditEntryResponse{
		ID:          entry.ID,
		Seq:         entry.Seq,
		SubjectType: string(entry.Subject.Type),
		SubjectID:   entry.Subject.ID,
		EventType:   entry.EventType,
		PrevHash:    entry.PrevHash,
		Hash:        entry.Hash,
		CreatedAt:   entry.CreatedAt.Format(time.RFC3339Nano),
	})
}

// VerifyChain はテナントのチェーンを検証する。改ざんがあっても200で結果を返す。
func (h *AuditHandler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")

	result, err := h.audit.VerifyChain(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, "verify_audit_chain", err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}
