// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"esign-trust-service/internal/domain"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port        string
	DBDriver    string
	DatabaseURL string
	LogLevel    string

	// マスター鍵。平文（base64/hex）か、Cloud KMSで暗号化されたものを指定する。
	MasterEncryptionKey string
	MasterKeyCiphertext string
	KMSKeyName          string
	KeyVersion          string

	OtpCodeLength       int
	OtpExpiry           time.Duration
	OtpMaxAttempts      int
	OtpRateLimitPerHour int

	DEKCacheTTL  time.Duration
	DEKCacheSize int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NotifyWebhookURL string
	NotifyWorkers    int
	NotifyQueueSize  int

	JWTSecret string

	PublicVerifyRPS   float64
	PublicVerifyBurst int

	GoogleCloudProject string
	OtelEnabled        bool
	OtelEndpoint       string
	OtelInsecure       bool
	OtelServiceName    string
	OtelSamplingRate   float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DBDriver:    getEnv("DB_DRIVER", "mysql"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),

		MasterEncryptionKey: os.Getenv("MASTER_ENCRYPTION_KEY"),
		MasterKeyCiphertext: os.Getenv("MASTER_KEY_CIPHERTEXT"),
		KMSKeyName:          os.Getenv("KMS_KEY_NAME"),
		KeyVersion:          getEnv("KEY_VERSION", "v1"),

		OtpCodeLength:       getEnvInt("OTP_CODE_LENGTH", 6),
		OtpExpiry:           time.Duration(getEnvInt("OTP_EXPIRY_MINUTES", 10)) * time.Minute,
		OtpMaxAttempts:      getEnvInt("OTP_MAX_ATTEMPTS", 5),
		OtpRateLimitPerHour: getEnvInt("OTP_RATE_LIMIT_PER_HOUR", 3),

		DEKCacheTTL:  getEnvDuration("DEK_CACHE_TTL", time.Hour),
		DEKCacheSize: getEnvInt("DEK_CACHE_SIZE", 10000),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWorkers:    getEnvInt("NOTIFY_WORKERS", 2),
		NotifyQueueSize:  getEnvInt("NOTIFY_QUEUE_SIZE", 256),

		JWTSecret: os.Getenv("JWT_SECRET"),

		PublicVerifyRPS:   getEnvFloat("PUBLIC_VERIFY_RPS", 5),
		PublicVerifyBurst: getEnvInt("PUBLIC_VERIFY_BURST", 10),

		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		OtelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelInsecure:       getEnvBool("OTEL_INSECURE", false),
		OtelServiceName:    getEnv("OTEL_SERVICE_NAME", "esign-trust-service"),
		OtelSamplingRate:   getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

// Validate は起動に必要な設定が揃っているか検証する。
func (c *Config) Validate() error {
	if c.MasterEncryptionKey == "" && c.MasterKeyCiphertext == "" {
		return fmt.Errorf("%w: MASTER_ENCRYPTION_KEY or MASTER_KEY_CIPHERTEXT is required", domain.ErrConfiguration)
	}
	if c.MasterKeyCiphertext != "" && c.KMSKeyName == "" {
		return fmt.Errorf("%w: KMS_KEY_NAME is required with MASTER_KEY_CIPHERTEXT", domain.ErrConfiguration)
	}
	if c.KeyVersion == "" {
		return fmt.Errorf("%w: KEY_VERSION must not be empty", domain.ErrConfiguration)
	}
	if c.OtpCodeLength < 4 || c.OtpCodeLength > 10 {
		return fmt.Errorf("%w: OTP_CODE_LENGTH must be between 4 and 10", domain.ErrConfiguration)
	}
	if c.OtpExpiry <= 0 || c.OtpMaxAttempts <= 0 || c.OtpRateLimitPerHour <= 0 {
		return fmt.Errorf("%w: OTP limits must be positive", domain.ErrConfiguration)
	}
	if c.DEKCacheTTL <= 0 {
		return fmt.Errorf("%w: DEK_CACHE_TTL must be positive", domain.ErrConfiguration)
	}
	return nil
}

// DecodeMasterKey は base64（"base64:" 接頭辞可）または hex の鍵文字列を復号する。
// 32バイト未満は不正とする。
func DecodeMasterKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: master key is empty", domain.ErrConfiguration)
	}
	var (
		key []byte
		err error
	)
	switch {
	case strings.HasPrefix(raw, "base64:"):
		key, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "base64:"))
	case len(raw) == 64 && isHex(raw):
		key, err = hex.DecodeString(raw)
	default:
		key, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: master key is not valid base64 or hex", domain.ErrConfiguration)
	}
	if len(key) < domain.DEKSize {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes", domain.ErrConfiguration, domain.DEKSize)
	}
	return key, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration は "90s" などのDuration表記か、秒数の整数を受け付ける。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
