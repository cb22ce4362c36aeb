// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"esign-trust-service/config"
	"esign-trust-service/internal/handler"
	"esign-trust-service/internal/infra"
	"esign-trust-service/internal/obs"
	"esign-trust-service/internal/repository"
	"esign-trust-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return err
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	infra.SetupLogger(cfg)
	obs.Init()

	db, err := infra.NewDB(cfg)
	if err != nil {
		return err
	}

	// マスター鍵がKMSでラップされている場合のみKMSクライアントを使う
	var unwrapper infra.Unwrapper
	if cfg.MasterKeyCiphertext != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := kmsClient.Close(); closeErr != nil {
				slog.Error("failed to close KMS client", "error", closeErr)
			}
		}()
		unwrapper = kmsClient
	}
	masterKey, err := infra.LoadMasterKey(ctx, cfg, unwrapper)
	if err != nil {
		return err
	}

	// 署名者・監査チェーン単位の排他。複数インスタンスで動かす場合はRedisを使う
	var locker usecase.Locker = infra.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisClient, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = infra.NewRedisLocker(redisClient, 10*time.Second)
	}

	var mailer infra.Mailer = infra.LogMailer{}
	if cfg.NotifyWebhookURL != "" {
		mailer = infra.NewWebhookMailer(cfg.NotifyWebhookURL, 10*time.Second)
	}
	notifier := infra.NewAsyncNotifier(mailer, cfg.NotifyWorkers, cfg.NotifyQueueSize).
		WithRetry(3, 10*time.Second)
	notifier.Start()
	defer notifier.Close()

	// DI
	keyRepo := repository.NewKeyRepository(db)
	documentRepo := repository.NewDocumentRepository(db, infra.NewID)
	auditLog := usecase.NewAuditLog(repository.NewAuditRepository(db), locker, infra.NewID)

	derivation := usecase.NewKeyDerivation(masterKey, cfg.KeyVersion, infra.NewDEKCache(cfg.DEKCacheSize, cfg.DEKCacheTTL), keyRepo)
	clear(masterKey)
	cipher := usecase.NewEnvelopeCipher(derivation)

	scorer, err := usecase.NewConfidenceScorer(usecase.WeightsV1)
	if err != nil {
		return err
	}
	otpService := usecase.NewOtpService(
		repository.NewOtpRepository(db, infra.NewID),
		usecase.NewSecretCodeGenerator(0),
		notifier,
		auditLog,
		locker,
		usecase.OtpPolicy{
			CodeLength:       cfg.OtpCodeLength,
			Expiry:           cfg.OtpExpiry,
			MaxAttempts:      cfg.OtpMaxAttempts,
			RateLimitPerHour: cfg.OtpRateLimitPerHour,
		},
	)

	router := handler.NewRouter(handler.Handlers{
		Keys:      handler.NewKeyHandler(usecase.NewKeyService(keyRepo, derivation, auditLog)),
		Documents: handler.NewDocumentHandler(usecase.NewDocumentService(documentRepo, cipher, auditLog)),
		Otp:       handler.NewOtpHandler(otpService),
		Audit:     handler.NewAuditHandler(auditLog),
		Verify:    handler.NewVerifyHandler(usecase.NewVerificationService(documentRepo, auditLog, scorer)),
	}, handler.RouterConfig{
		JWTSecret:         []byte(cfg.JWTSecret),
		PublicVerifyRPS:   cfg.PublicVerifyRPS,
		PublicVerifyBurst: cfg.PublicVerifyBurst,
		RequestTimeout:    30 * time.Second,
		OtelEnabled:       cfg.OtelEnabled,
	})
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET is not set; tenant routes will reject all requests")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.Port, "db_driver", cfg.DBDriver)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
