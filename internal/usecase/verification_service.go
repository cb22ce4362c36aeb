package usecase

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/obs"
)

// DocumentLookup は検証対象の文書メタデータを取得する。
type DocumentLookup interface {
	FindByDocumentID(ctx context.Context, tenantID, documentID string) (*domain.Document, error)
}

// ChainVerifier はテナントの監査チェーンを検証する。
type ChainVerifier interface {
	VerifyChainFunc(ctx context.Context, tenantID string, visit func(*domain.AuditEntry)) (*domain.ChainVerification, error)
}

// VerifyRequest は公開検証の入力。
type VerifyRequest struct {
	TenantID     string
	DocumentID   string
	DocumentHash string // 検証者が手元の文書から計算した SHA-256（16進）
}

// VerificationService は文書ハッシュ・監査チェーン・証跡をまとめて信頼度を算出する。
type VerificationService struct {
	documents DocumentLookup
	chain     ChainVerifier
	scorer    *ConfidenceScorer
}

// NewVerificationService は新しいVerificationServiceを生成する。
func NewVerificationService(documents DocumentLookup, chain ChainVerifier, scorer *ConfidenceScorer) *VerificationService {
	return &VerificationService{documents: documents, chain: chain, scorer: scorer}
}

// Verify は公開検証を行う。読み取りのみで、チェーンの改ざんはエラーではなく結果として返す。
func (s *VerificationService) Verify(ctx context.Context, req VerifyRequest) (*domain.VerificationResult, error) {
	if req.TenantID == "" {
		return nil, domain.ErrTenantContextMissing
	}
	doc, err := s.documents.FindByDocumentID(ctx, req.TenantID, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrDocumentNotFound
	}

	ev := newEvidence(doc)
	chain, err := s.chain.VerifyChainFunc(ctx, req.TenantID, ev.visit)
	if err != nil {
		return nil, fmt.Errorf("verifying audit chain: %w", err)
	}

	checks := []domain.Check{
		hashCheck(req.DocumentHash, doc.ContentHash),
		chainCheck(chain),
		evidenceCheck(domain.CheckTimestampAuthority, ev.timestamped, "no valid timestamp token recorded"),
		evidenceCheck(domain.CheckOtpVerified, ev.otpVerified, "signer identity was not confirmed by one-time passcode"),
		evidenceCheck(domain.CheckConsent, ev.consent, "no consent record found"),
		evidenceCheck(domain.CheckSignatureRecorded, ev.signed, "no signature event recorded"),
		evidenceCheck(domain.CheckGeolocation, ev.geolocated, "no geolocation metadata recorded"),
	}
	result := s.scorer.Score(checks)

	obs.ConfidenceScores.WithLabelValues(string(result.Confidence.Level)).Observe(float64(result.Confidence.Score))
	slog.InfoContext(ctx, "public verification completed",
		"operation", "verify_document",
		"tenant_id", req.TenantID,
		"document_id", req.DocumentID,
		"valid", result.Valid,
		"score", result.Confidence.Score,
		"weights_version", s.scorer.Version(),
	)
	return result, nil
}

func hashCheck(submitted, stored string) domain.Check {
	submitted = strings.ToLower(strings.TrimSpace(submitted))
	ok := submitted != "" && subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
	c := domain.Check{Name: domain.CheckDocumentHash, Passed: ok}
	if !ok {
		c.Message = "document hash does not match the signed original"
	}
	return c
}

func chainCheck(v *domain.ChainVerification) domain.Check {
	c := domain.Check{Name: domain.CheckChainIntegrity, Passed: v.Valid}
	if !v.Valid {
		c.Message = fmt.Sprintf("audit trail integrity broken after %d verified entries", v.EntriesVerified)
	}
	return c
}

func evidenceCheck(name string, ok bool, failMessage string) domain.Check {
	c := domain.Check{Name: name, Passed: ok}
	if !ok {
		c.Message = failMessage
	}
	return c
}

// evidence は検証を通過した監査エントリから、文書の署名プロセスに関する証跡を集める。
type evidence struct {
	documentID  string
	processID   string
	timestamped bool
	otpVerified bool
	consent     bool
	signed      bool
	geolocated  bool
}

func newEvidence(doc *domain.Document) *evidence {
	return &evidence{documentID: doc.DocumentID, processID: doc.ProcessID}
}

func (e *evidence) visit(entry *domain.AuditEntry) {
	payload, ok := decodePayload(entry.Payload)
	if !ok || !e.relevant(entry, payload) {
		return
	}
	switch entry.EventType {
	case domain.EventTsaTimestamped:
		if valid, _ := payload["valid"].(bool); valid {
			e.timestamped = true
		}
	case domain.EventOtpVerified:
		e.otpVerified = true
	case domain.EventConsentGiven:
		e.consent = true
	case domain.EventProcessSigned:
		e.signed = true
	}
	if geo, ok := payload["geolocation"]; ok && geo != nil {
		e.geolocated = true
	}
}

func (e *evidence) relevant(entry *domain.AuditEntry, payload map[string]any) bool {
	if entry.Subject.Type == domain.SubjectDocument && entry.Subject.ID == e.documentID {
		return true
	}
	if e.processID != "" {
		if entry.Subject.Type == domain.SubjectProcess && entry.Subject.ID == e.processID {
			return true
		}
		if pid, _ := payload["process_id"].(string); pid == e.processID {
			return true
		}
	}
	did, _ := payload["document_id"].(string)
	return did == e.documentID
}

func decodePayload(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}
