package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge int

	// LINE
	LineChannelSecret      string
	LineChannelAccessToken string
	LinkTokenTTL           time.Duration
	ReminderHourUTC        int
	ReminderPerSecond      int

	// Object storage
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3UsePathStyle  bool
	S3PublicBaseURL string

	// Redis（空の場合はプロセス内の重複排除を使う）
	RedisURL string

	// Enhancement
	EnhanceAPIToken        string
	EnhanceModel           string
	EnhanceTimeout         time.Duration
	EnhanceInterval        time.Duration
	EnhanceMaxConcurrent   int
	EnhanceAllowedHosts    []string
	EnhanceMaxImageSize    int64
	EnhanceDownloadTimeout time.Duration

	// Companion / speech
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Rate Limit
	RateLimitGeneral int
	RateLimitAI      int

	// Sketch
	SketchIdleTimeout time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はカレントディレクトリの.envを読み込む。既に設定済みの環境変数は上書きしない。
// ファイルがない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.BaseURL = required("BASE_URL")
	cfg.LineChannelSecret = required("LINE_CHANNEL_SECRET")
	cfg.LineChannelAccessToken = required("LINE_CHANNEL_ACCESS_TOKEN")
	cfg.S3Bucket = required("S3_BUCKET")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400*30)
	cfg.LinkTokenTTL = getEnvDuration("LINK_TOKEN_TTL", 5*time.Minute)
	cfg.ReminderHourUTC = getEnvInt("REMINDER_HOUR_UTC", 11)
	cfg.ReminderPerSecond = getEnvInt("REMINDER_PER_SECOND", 20)
	cfg.S3Region = getEnvString("S3_REGION", "ap-northeast-1")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)
	cfg.S3PublicBaseURL = getEnvString("S3_PUBLIC_BASE_URL", "")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.EnhanceAPIToken = getEnvString("ENHANCE_API_TOKEN", "")
	cfg.EnhanceModel = getEnvString("ENHANCE_MODEL", "")
	cfg.EnhanceTimeout = getEnvDuration("ENHANCE_TIMEOUT", 3*time.Minute)
	cfg.EnhanceInterval = getEnvDuration("ENHANCE_INTERVAL", 30*time.Second)
	cfg.EnhanceMaxConcurrent = getEnvInt("ENHANCE_MAX_CONCURRENT", 4)
	cfg.EnhanceAllowedHosts = getEnvList("ENHANCE_ALLOWED_HOSTS", []string{"replicate.delivery"})
	cfg.EnhanceMaxImageSize = getEnvInt64("ENHANCE_MAX_IMAGE_SIZE", 20<<20)
	cfg.EnhanceDownloadTimeout = getEnvDuration("ENHANCE_DOWNLOAD_TIMEOUT", 30*time.Second)
	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAI = getEnvInt("RATE_LIMIT_AI", 10)
	cfg.SketchIdleTimeout = getEnvDuration("SKETCH_IDLE_TIMEOUT", 30*time.Minute)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.ReminderHourUTC < 0 || cfg.ReminderHourUTC > 23 {
		return nil, fmt.Errorf("REMINDER_HOUR_UTC must be between 0 and 23: %d", cfg.ReminderHourUTC)
	}

	return cfg, nil
}

// EnhanceEnabled は画像の仕上げ処理が設定されているかを返す。
func (c *Config) EnhanceEnabled() bool {
	return c.EnhanceAPIToken != "" && c.EnhanceModel != ""
}

// CompanionEnabled はコンパニオンと音声機能が設定されているかを返す。
func (c *Config) CompanionEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を読み込む。空要素は除く。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
