// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port        string
	DatabaseURL string
	DBDriver    string // "mysql" または "sqlite"
	LogLevel    string

	// 鍵封印（at-rest暗号化）設定
	SealMode           string // "kms" または "local"
	KMSKeyName         string
	SealKey            string // localモード用のBase64エンコード済みAES鍵
	GoogleCloudProject string

	// ログイン判定設定
	TokenSecret     string
	TokenTTL        time.Duration
	FreshnessWindow time.Duration
	ApprovalTTL     time.Duration

	// OpenTelemetry設定
	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBDriver:    getEnv("DB_DRIVER", "mysql"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),

		SealMode:           getEnv("SEAL_MODE", "local"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		SealKey:            os.Getenv("SEAL_KEY"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),

		TokenSecret:     os.Getenv("TOKEN_SECRET"),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 5*time.Minute),
		FreshnessWindow: getEnvDuration("FRESHNESS_WINDOW", 30*time.Second),
		ApprovalTTL:     getEnvDuration("APPROVAL_TTL", 2*time.Minute),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "syberkey-service"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
