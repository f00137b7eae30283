package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Checkin  CheckinConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	Enabled    bool
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

type AuthConfig struct {
	OIDCIssuer string
	// HMACSecret enables locally signed HS256 tokens when no OIDC issuer is configured.
	HMACSecret string
}

type CheckinConfig struct {
	// AdmissionGrace is how long after the event date tickets are still admitted.
	AdmissionGrace     time.Duration
	IdempotencyTTL     time.Duration
	InFlightTTL        time.Duration
	InFlightPoll       time.Duration
	HistoryLimit       int
	IdempotencyBackend string // "redis" or "memory"
	OccupancyRelay     bool
	OccupancyChannel   string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", ":8085"),
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   0, // SSE streams stay open
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(getEnv("KAFKA_ADDR", "localhost:9092")),
			AuditTopic: getEnv("KAFKA_TOPIC_AUDIT", "ticketly.checkin.audit"),
			Enabled:    getEnvBool("KAFKA_ENABLED", true),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			HMACSecret: getEnv("JWT_HMAC_SECRET", ""),
		},
		Checkin: CheckinConfig{
			AdmissionGrace:     time.Duration(getEnvInt("CHECKIN_ADMISSION_GRACE_HOURS", 24)) * time.Hour,
			IdempotencyTTL:     time.Duration(getEnvInt("CHECKIN_IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour,
			InFlightTTL:        getEnvDuration("CHECKIN_INFLIGHT_TTL", 30*time.Second),
			InFlightPoll:       getEnvDuration("CHECKIN_INFLIGHT_POLL", 50*time.Millisecond),
			HistoryLimit:       getEnvInt("CHECKIN_HISTORY_LIMIT", 100),
			IdempotencyBackend: getEnv("CHECKIN_IDEMPOTENCY_BACKEND", "redis"),
			OccupancyRelay:     getEnvBool("CHECKIN_OCCUPANCY_RELAY", true),
			OccupancyChannel:   getEnv("CHECKIN_OCCUPANCY_CHANNEL", "checkin:occupancy"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
