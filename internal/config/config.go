// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // ログレベル (debug, info, warn, error)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）。WebSocket の Origin 検査にも使う

	// 認証設定
	AuthCertsURL string // 署名検証用 x509 証明書一覧の取得先
	AuthAudience string // トークンの aud
	AuthIssuer   string // トークンの iss
	AuthDisabled bool   // 検証を行わない（debug モードのみ有効）

	// ジョブ設定
	JobStoreRedisURL string // ジョブ状態を記録する Redis。空の場合は記録しない
	JobExpireMinutes int    // ジョブ記録の保持期間（分）
	WSSendBuffer     int    // 接続ごとの送信バッファ（イベント数）

	// モデル設定
	ArtifactCacheDir     string // モデルのローカルキャッシュ
	ArtifactBaseURL      string // モデル取得元。空の場合はダミーを生成する
	SimulatedStepDelayMS int    // シミュレーターの1ステップあたりの待ち時間（ミリ秒）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// 認証設定
		AuthCertsURL: getEnv("AUTH_CERTS_URL", defaultCertsURL),
		AuthAudience: getEnv("AUTH_AUDIENCE", ""),
		AuthIssuer:   getEnv("AUTH_ISSUER", ""),
		AuthDisabled: getEnvAsBool("AUTH_DISABLED", false),

		// ジョブ設定
		JobStoreRedisURL: getEnv("JOB_STORE_REDIS_URL", ""),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 60),
		WSSendBuffer:     getEnvAsInt("WS_SEND_BUFFER", 256),

		// モデル設定
		ArtifactCacheDir:     getEnv("ARTIFACT_CACHE_DIR", filepath.Join(os.TempDir(), "sd-worker", "models")),
		ArtifactBaseURL:      getEnv("ARTIFACT_BASE_URL", ""),
		SimulatedStepDelayMS: getEnvAsInt("SIMULATED_STEP_DELAY_MS", 50),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.JobExpireMinutes <= 0 {
		return fmt.Errorf("JOB_EXPIRE_MINUTES must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	if c.SimulatedStepDelayMS < 0 {
		return fmt.Errorf("SIMULATED_STEP_DELAY_MS must not be negative")
	}

	// 本番環境では認証設定を厳格にチェックする
	if c.GinMode == "release" {
		if c.AuthDisabled {
			return fmt.Errorf("AUTH_DISABLED is not allowed in release mode")
		}
		if c.AuthCertsURL == "" {
			return fmt.Errorf("AUTH_CERTS_URL is required in release mode")
		}
		if c.AuthAudience == "" {
			return fmt.Errorf("AUTH_AUDIENCE is required in release mode")
		}
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER is required in release mode")
		}
	}

	return nil
}

// AllowedOrigins は CORS 許可オリジンを一覧で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// JobExpiration はジョブ記録の保持期間を返します。
func (c *Config) JobExpiration() time.Duration {
	return time.Duration(c.JobExpireMinutes) * time.Minute
}

// StepDelay はシミュレーターの1ステップあたりの待ち時間を返します。
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.SimulatedStepDelayMS) * time.Millisecond
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
