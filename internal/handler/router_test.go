package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/middleware"
	"esign-trust-service/internal/usecase"
)

var routerSecret = []byte("router-test-secret-0123456789abcd")

type stubDocuments struct {
	stored map[string][]byte
	err    error
}

func (s *stubDocuments) Store(ctx context.Context, tenantID, documentID, processID string, content []byte) (*domain.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.stored[tenantID+"/"+documentID] = content
	return &domain.Document{TenantID: tenantID, DocumentID: documentID, ProcessID: processID, ContentHash: usecase.ContentHash(content), Size: int64(len(content))}, nil
}

func (s *stubDocuments) Load(ctx context.Context, tenantID, documentID string) ([]byte, *domain.Document, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	content, ok := s.stored[tenantID+"/"+documentID]
	if !ok {
		return nil, nil, domain.ErrDocumentNotFound
	}
	return content, &domain.Document{ContentHash: usecase.ContentHash(content)}, nil
}

func (s *stubDocuments) DocumentHash(ctx context.Context, tenantID, documentID string) (string, error) {
	content, ok := s.stored[tenantID+"/"+documentID]
	if !ok {
		return "", domain.ErrDocumentNotFound
	}
	return usecase.ContentHash(content), nil
}

type stubOtp struct {
	verifyErr error
	generated []domain.SignerRef
}

func (s *stubOtp) Generate(ctx context.Context, signer domain.SignerRef) (*domain.OtpIssue, error) {
	s.generated = append(s.generated, signer)
	return &domain.OtpIssue{Code: "123456", Record: &domain.OtpCode{ExpiresAt: time.Date(2025, 3, 1, 9, 10, 0, 0, time.UTC)}}, nil
}

func (s *stubOtp) Verify(ctx context.Context, signer domain.SignerRef, submitted string) error {
	return s.verifyErr
}

func (s *stubOtp) Status(ctx context.Context, signer domain.SignerRef) (*domain.OtpStatus, error) {
	return &domain.OtpStatus{State: domain.OtpStateNone, CanRequest: true}, nil
}

type stubVerifier struct {
	result *domain.VerificationResult
	err    error
}

func (s *stubVerifier) Verify(ctx context.Context, req usecase.VerifyRequest) (*domain.VerificationResult, error) {
	return s.result, s.err
}

type routerFixture struct {
	handler http.Handler
	docs    *stubDocuments
	otp     *stubOtp
	audit   *stubAudit
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		docs:  &stubDocuments{stored: map[string][]byte{}},
		otp:   &stubOtp{},
		audit: &stubAudit{},
	}
	verifier := &stubVerifier{result: &domain.VerificationResult{
		Valid:      true,
		Confidence: domain.Confidence{Score: 100, Level: domain.ConfidenceHigh},
		Checks:     []domain.Check{{Name: domain.CheckDocumentHash, Passed: true}},
	}}
	f.handler = NewRouter(Handlers{
		Keys:      setupHandler(&mockKeyRepository{}),
		Documents: NewDocumentHandler(f.docs),
		Otp:       NewOtpHandler(f.otp),
		Audit:     NewAuditHandler(f.audit),
		Verify:    NewVerifyHandler(verifier),
	}, RouterConfig{
		JWTSecret:         routerSecret,
		PublicVerifyRPS:   1,
		PublicVerifyBurst: 2,
	})
	return f
}

func bearer(t *testing.T, tenantID, role, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(routerSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return "Bearer " + token
}

func (f *routerFixture) do(method, target, auth string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.RemoteAddr = "198.51.100.7:40000"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Healthz(t *testing.T) {
	f := newRouterFixture(t)
	if rec := f.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
}

func TestRouter_AdminRoutesRequireToken(t *testing.T) {
	f := newRouterFixture(t)

	if rec := f.do(http.MethodGet, "/v1/tenants/tenant-a/keys", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("want status 401, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/v1/tenants/tenant-a/keys", bearer(t, "tenant-b", middleware.RoleAdmin, "ops"), nil); rec.Code != http.StatusForbidden {
		t.Errorf("want status 403 for other tenant, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/v1/tenants/tenant-a/keys", bearer(t, "tenant-a", middleware.RoleSigner, "signer-1"), nil); rec.Code != http.StatusForbidden {
		t.Errorf("want status 403 for signer role, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/v1/tenants/tenant-a/keys", bearer(t, "tenant-a", middleware.RoleAdmin, "ops"), nil); rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
}

func TestRouter_DocumentRoundTrip(t *testing.T) {
	f := newRouterFixture(t)
	auth := bearer(t, "tenant-a", middleware.RoleAdmin, "ops")
	content := []byte("%PDF-1.7 contract")

	rec := f.do(http.MethodPut, "/v1/tenants/tenant-a/documents/doc-1", auth, content)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d", rec.Code)
	}
	var stored DocumentResponse
	json.NewDecoder(rec.Body).Decode(&stored)
	if stored.ContentHash != usecase.ContentHash(content) {
		t.Errorf("want content hash %s, got %s", usecase.ContentHash(content), stored.ContentHash)
	}

	rec = f.do(http.MethodGet, "/v1/tenants/tenant-a/documents/doc-1", auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Error("want original content")
	}
	if rec.Header().Get("X-Content-SHA256") != stored.ContentHash {
		t.Error("want X-Content-SHA256 header")
	}

	rec = f.do(http.MethodGet, "/v1/tenants/tenant-a/documents/doc-1/hash", auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}

	if rec := f.do(http.MethodGet, "/v1/tenants/tenant-a/documents/missing", auth, nil); rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPut, "/v1/tenants/tenant-a/documents/empty", auth, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400 for empty body, got %d", rec.Code)
	}
}

func TestRouter_DocumentIntegrityFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.docs.err = domain.ErrIntegrityCheckFailed

	rec := f.do(http.MethodGet, "/v1/tenants/tenant-a/documents/doc-1", bearer(t, "tenant-a", middleware.RoleAdmin, "ops"), nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("want status 422, got %d", rec.Code)
	}
}

func TestRouter_OtpSignerScope(t *testing.T) {
	f := newRouterFixture(t)
	body := []byte(`{"process_id":"proc-1","email":"signer@example.com"}`)

	rec := f.do(http.MethodPost, "/v1/tenants/tenant-a/signers/signer-1/otp", bearer(t, "tenant-a", middleware.RoleSigner, "signer-1"), body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("want status 202, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "123456") {
		t.Error("want code never returned in the response")
	}
	if len(f.otp.generated) != 1 || f.otp.generated[0].ProcessID != "proc-1" || f.otp.generated[0].TenantID != "tenant-a" {
		t.Errorf("unexpected signer: %+v", f.otp.generated)
	}

	// 他の署名者のトークンでは操作できない
	rec = f.do(http.MethodPost, "/v1/tenants/tenant-a/signers/signer-1/otp", bearer(t, "tenant-a", middleware.RoleSigner, "signer-2"), body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("want status 403, got %d", rec.Code)
	}
}

func TestRouter_OtpVerifyErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantCode string
	}{
		{"verified", nil, http.StatusOK, ""},
		{"wrong value", domain.NewInvalidCodeError(domain.OtpDetailWrongValue), http.StatusUnprocessableEntity, "OTP_INVALID_CODE"},
		{"wrong length", domain.NewInvalidCodeError(domain.OtpDetailWrongLength), http.StatusUnprocessableEntity, "OTP_INVALID_CODE"},
		{"expired", domain.ErrOtpExpired, http.StatusGone, "OTP_EXPIRED"},
		{"not found", domain.ErrOtpNotFound, http.StatusNotFound, "OTP_NOT_FOUND"},
		{"already verified", domain.ErrOtpAlreadyVerified, http.StatusConflict, "OTP_ALREADY_VERIFIED"},
		{"max attempts", domain.ErrOtpMaxAttemptsExceeded, http.StatusForbidden, "OTP_MAX_ATTEMPTS_EXCEEDED"},
		{"rate limited", domain.ErrOtpRateLimitExceeded, http.StatusTooManyRequests, "OTP_RATE_LIMIT_EXCEEDED"},
		{"infrastructure", context.DeadlineExceeded, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.otp.verifyErr = tt.err

			rec := f.do(http.MethodPost, "/v1/tenants/tenant-a/signers/signer-1/otp/verify", bearer(t, "tenant-a", middleware.RoleAdmin, "ops"), []byte(`{"code":"123456"}`))
			if rec.Code != tt.want {
				t.Fatalf("want status %d, got %d", tt.want, rec.Code)
			}
			if tt.wantCode == "" {
				return
			}
			var resp map[string]string
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp["code"] != tt.wantCode {
				t.Errorf("want code %s, got %s", tt.wantCode, resp["code"])
			}
		})
	}
}

func TestRouter_AuditEvents(t *testing.T) {
	f := newRouterFixture(t)
	auth := bearer(t, "tenant-a", middleware.RoleAdmin, "ops")

	rec := f.do(http.MethodPost, "/v1/tenants/tenant-a/audit/events", auth,
		[]byte(`{"subject_type":"process","subject_id":"proc-1","event_type":"consent.given","payload":{"process_id":"proc-1"}}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d", rec.Code)
	}

	// サービスが記録するイベントは外部から記録できない
	rec = f.do(http.MethodPost, "/v1/tenants/tenant-a/audit/events", auth,
		[]byte(`{"subject_type":"signer","subject_id":"signer-1","event_type":"otp.verified"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400 for reserved event, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/v1/tenants/tenant-a/audit/events", auth,
		[]byte(`{"subject_type":"planet","subject_id":"x","event_type":"consent.given"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400 for unknown subject type, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/v1/tenants/tenant-a/audit/verify", auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var v domain.ChainVerification
	json.NewDecoder(rec.Body).Decode(&v)
	if !v.Valid || v.EntriesVerified != 1 {
		t.Errorf("unexpected verification: %+v", v)
	}
}

func TestRouter_PublicVerify(t *testing.T) {
	f := newRouterFixture(t)
	body := []byte(`{"tenant_id":"tenant-a","document_id":"doc-1","document_hash":"abc"}`)

	rec := f.do(http.MethodPost, "/v1/public/verify", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var result domain.VerificationResult
	json.NewDecoder(rec.Body).Decode(&result)
	if result.Confidence.Score != 100 || result.Confidence.Level != domain.ConfidenceHigh {
		t.Errorf("unexpected result: %+v", result)
	}

	if rec := f.do(http.MethodPost, "/v1/public/verify", "", []byte(`{"tenant_id":"bad tenant","document_id":"d","document_hash":"h"}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}

	// バースト2を使い切った後は拒否される
	if rec := f.do(http.MethodPost, "/v1/public/verify", "", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("want status 429, got %d", rec.Code)
	}
}
