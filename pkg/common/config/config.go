package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerHost        string
	FormsServicePort  string
	ExportServicePort string
	GatewayPort       string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxRequestBody    int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Schema validation
	SchemaCatalogPath string
	SchemaMaxDepth    int

	// Snapshot publishing
	PublishMaxRetries int

	// Export pipeline
	ExportBatchSize      int
	ExportSyncRowLimit   int
	ExportSyncTimeout    time.Duration
	ExportMaxWorkers     int
	ExportReadRetries    int
	ExportRetryBaseDelay time.Duration
	ExportArtifactDir    string
	ExportRetention      time.Duration
	ExportXLSXRowCap     int

	// OIDC / tokens
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	JWTSecret        string
	JWTAudience      string
	JWTTTL           time.Duration

	// Gateway specific
	FormsBaseURL          string
	ExportBaseURL         string
	GatewayRequestTimeout time.Duration
	GatewayRateLimitRPS   int
	GatewayRateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerHost:        getEnv("SERVER_HOST", "0.0.0.0"),
		FormsServicePort:  getEnv("FORMS_SERVICE_PORT", "8081"),
		ExportServicePort: getEnv("EXPORT_SERVICE_PORT", "8082"),
		GatewayPort:       getEnv("GATEWAY_PORT", "8080"),
		ReadTimeout:       getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody:    int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "formforge"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "formforge123"),
		PostgresDB:       getEnv("POSTGRES_DB", "formforge"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "formforge-platform"),

		SchemaCatalogPath: getEnv("SCHEMA_CATALOG_PATH", ""),
		SchemaMaxDepth:    getIntEnv("SCHEMA_MAX_DEPTH", 8),

		PublishMaxRetries: getIntEnv("PUBLISH_MAX_RETRIES", 3),

		ExportBatchSize:      getIntEnv("EXPORT_BATCH_SIZE", 500),
		ExportSyncRowLimit:   getIntEnv("EXPORT_SYNC_ROW_LIMIT", 2000),
		ExportSyncTimeout:    getDuration("EXPORT_SYNC_TIMEOUT", 30*time.Second),
		ExportMaxWorkers:     getIntEnv("EXPORT_MAX_WORKERS", 4),
		ExportReadRetries:    getIntEnv("EXPORT_READ_RETRIES", 3),
		ExportRetryBaseDelay: getDuration("EXPORT_RETRY_BASE_DELAY", 200*time.Millisecond),
		ExportArtifactDir:    getEnv("EXPORT_ARTIFACT_DIR", "/tmp/formforge/exports"),
		ExportRetention:      getDuration("EXPORT_RETENTION", 24*time.Hour),
		ExportXLSXRowCap:     getIntEnv("EXPORT_XLSX_ROW_CAP", 100000),

		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAudience:      getEnv("JWT_AUDIENCE", "formforge"),
		JWTTTL:           getDuration("JWT_TTL", time.Hour),

		FormsBaseURL:          getEnv("FORMS_BASE_URL", "http://localhost:8081"),
		ExportBaseURL:         getEnv("EXPORT_BASE_URL", "http://localhost:8082"),
		GatewayRequestTimeout: getDuration("GATEWAY_REQUEST_TIMEOUT", 10*time.Second),
		GatewayRateLimitRPS:   getIntEnv("GATEWAY_RATE_LIMIT_RPS", 50),
		GatewayRateLimitBurst: getIntEnv("GATEWAY_RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
