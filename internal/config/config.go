package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Config struct {
	AppEnv  string
	AppPort string

	PostgresDSN string
	RedisAddr   string

	// 上游 feed 的凭据（原样放入 Authorization），为空时视为关闭采集
	SleeperAuth string
	FeedURL     string
	FeedTimeout time.Duration

	IngestSpec        string
	PublishSpec       string
	IngestConcurrency int
	SeenTTL           time.Duration

	SlackWebhookURLs []string

	BasicAuthUser string
	BasicAuthPass string

	FlyRegion     string
	PrimaryRegion string
}

// LoadDotEnvs 按优先级加载 .env 文件，已存在的环境变量不会被覆盖
func LoadDotEnvs() {
	env := getEnv("APP_ENV", "dev")
	_ = godotenv.Load(".env." + env + ".local")
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env." + env)
	_ = godotenv.Load(".env")
}

// Load 读取并校验配置；解析失败的数值项回退到默认值并经 log 告警
func Load(log logrus.FieldLogger) (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "dev"),
		AppPort:           getEnv("APP_PORT", "9000"),
		PostgresDSN:       getEnv("POSTGRES_DSN", "host=localhost user=ffnews password=ffnews dbname=ffnews port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		SleeperAuth:       strings.TrimSpace(os.Getenv("SLEEPER_AUTH")),
		FeedURL:           getEnv("FEED_URL", "https://sleeper.com/graphql"),
		FeedTimeout:       getDuration(log, "FEED_TIMEOUT", "15s"),
		IngestSpec:        getEnv("INGEST_SPEC", "@every 1m"),
		PublishSpec:       getEnv("PUBLISH_SPEC", "@every 30s"),
		IngestConcurrency: getInt(log, "INGEST_CONCURRENCY", 8),
		SeenTTL:           getDuration(log, "SEEN_TTL", "24h"),
		SlackWebhookURLs:  splitAndTrim(os.Getenv("SLACK_WEBHOOK_URLS")),
		BasicAuthUser:     os.Getenv("APP_BASIC_USER"),
		BasicAuthPass:     os.Getenv("APP_BASIC_PASS"),
		FlyRegion:         os.Getenv("FLY_REGION"),
		PrimaryRegion:     os.Getenv("PRIMARY_REGION"),
	}

	if cfg.IngestConcurrency <= 0 {
		return nil, fmt.Errorf("INGEST_CONCURRENCY must be positive")
	}
	if cfg.FeedTimeout <= 0 {
		return nil, fmt.Errorf("FEED_TIMEOUT must be positive")
	}
	for key, spec := range map[string]string{"INGEST_SPEC": cfg.IngestSpec, "PUBLISH_SPEC": cfg.PublishSpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("%s %q is not a valid cron spec: %w", key, spec, err)
		}
	}

	log.Infof("config loaded: env=%s port=%s ingest=%s publish=%s ingestion_enabled=%t destinations=%d",
		cfg.AppEnv, cfg.AppPort, cfg.IngestSpec, cfg.PublishSpec, cfg.IngestionEnabled(), len(cfg.SlackWebhookURLs))
	return cfg, nil
}

// IngestionEnabled 未配置凭据时采集任务直接跳过
func (c *Config) IngestionEnabled() bool {
	return c.SleeperAuth != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(log logrus.FieldLogger, key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warnf("%s=%q is not an integer, using %d", key, raw, def)
		return def
	}
	return v
}

func getDuration(log logrus.FieldLogger, key, def string) time.Duration {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		d, _ = time.ParseDuration(def)
		log.Warnf("%s=%q is not a duration, using %s", key, raw, def)
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
