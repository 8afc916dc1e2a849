package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Stories API
	StoriesAPIBaseURL string
	StoriesAPIToken   string

	// Notification
	NotifyWebhookURL string // 空の場合は通知を無効化

	// Posting
	PublishTimeout       time.Duration
	PublishRatePerMinute int
	ProcessInterval      time.Duration
	RetryMax             int
	RetryBackoffMinutes  int
	ForceShiftMinutes    int
	DefaultAccount       string

	// Schedule
	SlotWindowStart string // "HH:MM"
	SlotWindowEnd   string // "HH:MM"

	// Audit
	RunRetentionDays int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.StoriesAPIBaseURL = os.Getenv("STORIES_API_BASE_URL")
	if cfg.StoriesAPIBaseURL == "" {
		missing = append(missing, "STORIES_API_BASE_URL")
	}

	cfg.StoriesAPIToken = os.Getenv("STORIES_API_TOKEN")
	if cfg.StoriesAPIToken == "" {
		missing = append(missing, "STORIES_API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.PublishTimeout = getEnvDuration("PUBLISH_TIMEOUT", 15*time.Second)
	cfg.PublishRatePerMinute = getEnvInt("PUBLISH_RATE_PER_MINUTE", 10)
	cfg.ProcessInterval = getEnvDuration("PROCESS_INTERVAL", time.Minute)
	cfg.RetryMax = getEnvInt("RETRY_MAX", 3)
	cfg.RetryBackoffMinutes = getEnvInt("RETRY_BACKOFF_MINUTES", 30)
	cfg.ForceShiftMinutes = getEnvInt("FORCE_SHIFT_MINUTES", 60)
	cfg.DefaultAccount = getEnvString("DEFAULT_ACCOUNT", "primary")
	cfg.SlotWindowStart = getEnvString("SLOT_WINDOW_START", "09:00")
	cfg.SlotWindowEnd = getEnvString("SLOT_WINDOW_END", "21:00")
	cfg.RunRetentionDays = getEnvInt("RUN_RETENTION_DAYS", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if err := validateTimeOfDay(cfg.SlotWindowStart); err != nil {
		return nil, fmt.Errorf("invalid SLOT_WINDOW_START: %w", err)
	}
	if err := validateTimeOfDay(cfg.SlotWindowEnd); err != nil {
		return nil, fmt.Errorf("invalid SLOT_WINDOW_END: %w", err)
	}

	return cfg, nil
}

// validateTimeOfDay は"HH:MM"形式の時刻文字列を検証する。
func validateTimeOfDay(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("expected HH:MM format, got %q", s)
	}
	return nil
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
