package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	AppEnv        string
	DatabaseURL   string
	RedisURL      string // 为空时使用进程内队列和发件箱
	SessionSecret string

	// 站点与通知
	Domain        string
	AdminEmail    string
	AdminName     string
	AdminPassword string // 为空时不创建管理员账号
	AuthSecret    string // 退订链接签名

	// SMTP - 未配置时邮件只记录日志
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string
	SMTPFromName string

	// 审核模型
	LLMBaseURL string
	LLMToken   string
	LLMModel   string

	ModerationWorkers       int
	ModerationQueueSize     int
	ModerationSweepSchedule string
	ModerationStaleAfter    time.Duration
}

func Load() Config {
	return Config{
		Port:          getenv("PORT", "8080"),
		AppEnv:        getenv("APP_ENV", "development"),
		DatabaseURL:   getenv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=flare port=5432 sslmode=disable TimeZone=Asia/Shanghai"),
		RedisURL:      getenv("REDIS_URL", ""),
		SessionSecret: getenv("SESSION_SECRET", "secret_key_change_me"),

		Domain:        getenv("DOMAIN", "localhost:8080"),
		AdminEmail:    getenv("ADMIN_EMAIL", ""),
		AdminName:     getenv("ADMIN_NAME", "admin"),
		AdminPassword: getenv("ADMIN_PASSWORD", ""),
		AuthSecret:    getenv("AUTH_SECRET", "auth-secret-change-me"),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUser:     getenv("SMTP_USER", ""),
		SMTPPass:     getenv("SMTP_PASS", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Flare"),

		LLMBaseURL: getenv("LLM_BASE_URL", ""),
		LLMToken:   getenv("LLM_TOKEN", ""),
		LLMModel:   getenv("LLM_MODEL", "gpt-4o-mini"),

		ModerationWorkers:       getenvInt("MODERATION_WORKERS", 2),
		ModerationQueueSize:     getenvInt("MODERATION_QUEUE_SIZE", 1000),
		ModerationSweepSchedule: getenv("MODERATION_SWEEP_SCHEDULE", "@every 1m"),
		ModerationStaleAfter:    getenvDuration("MODERATION_STALE_AFTER", 10*time.Minute),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
