// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"esign-trust-service/internal/obs"
)

// 操作結果
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// LogOperation は管理操作の結果をログに出力する。改ざん検知が必要な記録は監査チェーンに残す。
func LogOperation(ctx context.Context, operation, tenantID, result string, attrs ...any) {
	args := append([]any{
		"operation", operation,
		"tenant_id", tenantID,
		"result", result,
		"request_id", chimiddleware.GetReqID(ctx),
	}, attrs...)
	slog.InfoContext(ctx, "operation completed", args...)
}

// RequestLogger はリクエストごとにアクセスログを出力し、ルート単位の件数を記録する。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		obs.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request",
			"operation", "http_request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
