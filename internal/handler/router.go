package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"esign-trust-service/internal/middleware"
	"esign-trust-service/internal/obs"
	"esign-trust-service/pkg/httputil"
)

// Handlers はルーターに登録するハンドラ群。
type Handlers struct {
	Keys      *KeyHandler
	Documents *DocumentHandler
	Otp       *OtpHandler
	Audit     *AuditHandler
	Verify    *VerifyHandler
}

// RouterConfig はルーターの設定。
type RouterConfig struct {
	JWTSecret         []byte
	PublicVerifyRPS   float64
	PublicVerifyBurst int
	RequestTimeout    time.Duration
	OtelEnabled       bool
}

// NewRouter はルーターを生成する。
func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", obs.Handler())

	r.With(middleware.RateLimitByIP(cfg.PublicVerifyRPS, cfg.PublicVerifyBurst)).
		Post("/v1/public/verify", h.Verify.Verify)

	r.Route("/v1/tenants/{tenant_id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.TenantAuth(cfg.JWTSecret, middleware.RoleAdmin))

			r.Route("/keys", func(r chi.Router) {
				r.Post("/", h.Keys.CreateKey)
				r.Get("/", h.Keys.ListKeys)
				r.Post("/rotate", h.Keys.RotateKey)
				r.Delete("/{generation}", h.Keys.DisableKey)
			})
			r.Route("/documents/{document_id}", func(r chi.Router) {
				r.Put("/", h.Documents.PutDocument)
				r.Get("/", h.Documents.GetDocument)
				r.Get("/hash", h.Documents.GetDocumentHash)
			})
			r.Post("/audit/events", h.Audit.RecordEvent)
			r.Get("/audit/verify", h.Audit.VerifyChain)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.TenantAuth(cfg.JWTSecret, middleware.RoleAdmin, middleware.RoleSigner))

			r.Route("/signers/{signer_id}/otp", func(r chi.Router) {
				r.Post("/", h.Otp.RequestCode)
				r.Post("/verify", h.Otp.VerifyCode)
				r.Get("/status", h.Otp.GetStatus)
			})
		})
	})

	if !cfg.OtelEnabled {
		return r
	}
	return otelhttp.NewHandler(r, "esign-trust-service")
}
