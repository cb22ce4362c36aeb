package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"esign-trust-service/pkg/httputil"
)

// ロール
const (
	RoleAdmin  = "admin"
	RoleSigner = "signer"
)

// Claims はテナントに束縛されたアクセストークンのクレーム。
// signer ロールでは Subject が署名者IDになる。
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// ClaimsFromContext は TenantAuth が検証したクレームを返す。
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// WithClaims はクレームをコンテキストに格納する。
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// TenantAuth はHS256のBearerトークンを検証し、URLの {tenant_id} とクレームが一致する場合のみ通す。
// secret が空の場合はすべて拒否する。
func TenantAuth(secret []byte, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication is not configured")
				return
			}
			claims, err := parseBearer(r, secret)
			if err != nil {
				slog.WarnContext(r.Context(), "rejected access token",
					"operation", "tenant_auth",
					"error", err,
				)
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing access token")
				return
			}
			if tenantID := chi.URLParam(r, "tenant_id"); tenantID == "" || claims.TenantID != tenantID {
				httputil.Error(w, http.StatusForbidden, "TENANT_MISMATCH", "token is not valid for this tenant")
				return
			}
			if !slices.Contains(roles, claims.Role) {
				httputil.Error(w, http.StatusForbidden, "FORBIDDEN", "role is not allowed for this operation")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// CanActAsSigner は admin か、Subject が signerID と一致する signer であれば true を返す。
func CanActAsSigner(ctx context.Context, signerID string) bool {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return false
	}
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleSigner:
		return c.Subject != "" && c.Subject == signerID
	default:
		return false
	}
}

func parseBearer(r *http.Request, secret []byte) (*Claims, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("missing bearer token")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant_id claim")
	}
	return claims, nil
}
