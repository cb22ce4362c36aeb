package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/obs"
)

// Notification は署名者へのOTP配送依頼。
type Notification struct {
	Signer domain.SignerRef
	Code   string
}

// Mailer は1件の通知を配送する。
type Mailer interface {
	Send(ctx context.Context, n Notification) error
}

// 配送の再試行設定
const (
	DefaultDeliveryAttempts = 3
	DefaultDeliveryInterval = 10 * time.Second
)

// AsyncNotifier はキューとワーカーで通知を非同期に配送する。
// 発行処理は配送を待たず、失敗はワーカー側で再試行してログに残す。
type AsyncNotifier struct {
	mailer   Mailer
	queue    chan queuedNotification
	workers  int
	attempts uint
	interval time.Duration

	// mu は queue への送信と close を排他する
	mu     sync.RWMutex
	closed bool

	wg        sync.WaitGroup
	startOnce sync.Once
}

type queuedNotification struct {
	ctx context.Context
	n   Notification
}

// NewAsyncNotifier は新しいAsyncNotifierを生成する。Start を呼ぶまで配送しない。
func NewAsyncNotifier(mailer Mailer, workers, queueSize int) *AsyncNotifier {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &AsyncNotifier{
		mailer:   mailer,
		queue:    make(chan queuedNotification, queueSize),
		workers:  workers,
		attempts: DefaultDeliveryAttempts,
		interval: DefaultDeliveryInterval,
	}
}

// WithRetry は再試行回数と間隔を変更する。
func (n *AsyncNotifier) WithRetry(attempts uint, interval time.Duration) *AsyncNotifier {
	n.attempts = attempts
	n.interval = interval
	return n
}

// Start はワーカーを起動する。
func (n *AsyncNotifier) Start() {
	n.startOnce.Do(func() {
		for i := 0; i < n.workers; i++ {
			n.wg.Add(1)
			go n.run()
		}
	})
}

// Close はキューを閉じ、残りの配送が終わるまで待つ。以降の Enqueue はエラーになる。
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

// Enqueue は配送をキューに積む。キューが満杯なら待たずにエラーを返す。
func (n *AsyncNotifier) Enqueue(ctx context.Context, signer domain.SignerRef, code string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return domain.ErrNotifierClosed
	}

	item := queuedNotification{
		// リクエスト終了後も配送を続けるためキャンセルを切り離す
		ctx: context.WithoutCancel(ctx),
		n:   Notification{Signer: signer, Code: code},
	}
	select {
	case n.queue <- item:
		return nil
	default:
		obs.NotificationDeliveries.WithLabelValues("dropped").Inc()
		return domain.ErrNotificationQueueFull
	}
}

func (n *AsyncNotifier) run() {
	defer n.wg.Done()
	for item := range n.queue {
		n.deliver(item.ctx, item.n)
	}
}

func (n *AsyncNotifier) deliver(ctx context.Context, note Notification) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, n.mailer.Send(ctx, note)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(n.interval)),
		backoff.WithMaxTries(n.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "otp delivery failed, retrying",
				"operation", "notify_deliver",
				"tenant_id", note.Signer.TenantID,
				"signer_id", note.Signer.SignerID,
				"retry_in", next.String(),
				"error", err,
			)
		}),
	)
	if err != nil {
		obs.NotificationDeliveries.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "otp delivery failed",
			"operation", "notify_deliver",
			"tenant_id", note.Signer.TenantID,
			"signer_id", note.Signer.SignerID,
			"error", err,
		)
		return
	}
	obs.NotificationDeliveries.WithLabelValues("delivered").Inc()
}

// WebhookMailer は配送サービスのWebhookにJSONをPOSTする。
type WebhookMailer struct {
	url    string
	client *http.Client
}

// NewWebhookMailer は新しいWebhookMailerを生成する。
func NewWebhookMailer(url string, timeout time.Duration) *WebhookMailer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookMailer{
		url: url,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

type webhookPayload struct {
	TenantID  string `json:"tenant_id"`
	SignerID  string `json:"signer_id"`
	ProcessID string `json:"process_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Code      string `json:"code"`
}

// Send は通知を1回送信する。4xx は再試行しても変わらないため恒久エラーとする。
func (m *WebhookMailer) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{
		TenantID:  n.Signer.TenantID,
		SignerID:  n.Signer.SignerID,
		ProcessID: n.Signer.ProcessID,
		Email:     n.Signer.Email,
		Code:      n.Code,
	})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encoding notification: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("notification rejected: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("notification failed: status %d", resp.StatusCode)
	}
}

// LogMailer は配送先が無い環境向けにログへ出力するだけのMailer。コードは伏せる。
type LogMailer struct{}

// Send は通知をログに出力する。
func (LogMailer) Send(ctx context.Context, n Notification) error {
	slog.InfoContext(ctx, "otp notification (log only)",
		"operation", "notify_deliver",
		"tenant_id", n.Signer.TenantID,
		"signer_id", n.Signer.SignerID,
		"code", strings.Repeat("*", len(n.Code)),
	)
	return nil
}
