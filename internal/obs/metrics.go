// Package obs はPrometheusメトリクスを提供する。
package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OtpOutcomes はOTP操作の結果件数。
	OtpOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_otp_outcomes_total",
			Help: "OTP operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// EnvelopeOperations は暗号化・復号の結果件数。
	EnvelopeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_envelope_operations_total",
			Help: "Envelope encrypt/decrypt operations by result.",
		},
		[]string{"operation", "result"},
	)

	// ChainVerifications は監査チェーン検証の結果件数。
	ChainVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_audit_chain_verifications_total",
			Help: "Audit chain verifications by result.",
		},
		[]string{"result"},
	)

	// ConfidenceScores は公開検証のスコア分布。
	ConfidenceScores = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trust_confidence_score",
			Help:    "Confidence scores produced by public verification.",
			Buckets: []float64{10, 25, 50, 65, 80, 90, 100},
		},
		[]string{"level"},
	)

	// DEKCacheLookups はDEKキャッシュのヒット・ミス件数。
	DEKCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_dek_cache_lookups_total",
			Help: "DEK cache lookups by result.",
		},
		[]string{"result"},
	)

	// NotificationDeliveries は通知配送の結果件数。
	NotificationDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_notification_deliveries_total",
			Help: "OTP notification deliveries by result.",
		},
		[]string{"result"},
	)

	// HTTPRequests はルート単位のHTTPリクエスト件数。
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	// RateLimitRejections はレート制限で拒否したリクエスト件数。
	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trust_rate_limit_rejections_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		},
	)
)

var registerOnce sync.Once

// Init はメトリクスをdefault-registerに登録する。複数回呼んでもよい。
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OtpOutcomes,
			EnvelopeOperations,
			ChainVerifications,
			ConfidenceScores,
			DEKCacheLookups,
			NotificationDeliveries,
			HTTPRequests,
			RateLimitRejections,
		)
	})
}

// Handler はPrometheusのハンドラを返す。
func Handler() http.Handler {
	return promhttp.Handler()
}
