package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is loaded once at startup from environment variables.
type Config struct {
	// Server
	Port     string // REST + control plane
	WSPort   string // realtime sessions
	Env      string
	LogLevel string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBUrl      string
	DBMaxConns int

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Identity service
	AuthServiceURL string
	JWTSecret      string

	// MinIO
	MinioHost   string
	MinioPort   string
	MinioUser   string
	MinioPass   string
	MinioUseSSL bool
	MinioRegion string

	SnapshotBucket   string
	AttachmentBucket string

	// Snapshot pipeline
	SnapshotThreshold int
	WorkerInterval    time.Duration
	SnapshotSizeLimit int64 // bytes; larger snapshots go to the blob store

	// Session runtime
	Debounce       time.Duration
	MaxDebounce    time.Duration
	SessionTimeout time.Duration
	IdleTTL        time.Duration

	// Gateway
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	// SMTP
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string
	BaseURL  string
}

func LoadConfig() *Config {
	cfg := &Config{
		// Server
		Port:     getEnv("PORT", "3001"),
		WSPort:   getEnv("HOCUSPOCUS_PORT", "1234"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "editor-service"),
		DBPassword: getEnv("DB_PASSWORD", "editor-service"),
		DBName:     getEnv("DB_NAME", "editor-service"),
		DBMaxConns: getEnvInt("DB_MAX_CONNS", 20),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Identity service
		AuthServiceURL: getEnv("AUTH_SERVICE_URL", "http://localhost:8081"),
		JWTSecret:      getEnv("JWT_SECRET", ""),

		// MinIO
		MinioHost:   getEnv("MINIO_HOST", "localhost"),
		MinioPort:   getEnv("MINIO_PORT", "9000"),
		MinioUser:   getEnv("MINIO_USER", "admin"),
		MinioPass:   getEnv("MINIO_PASSWORD", "admin123"),
		MinioUseSSL: getEnvBool("MINIO_USE_SSL", false),
		MinioRegion: getEnv("MINIO_REGION", "us-east-1"),

		SnapshotBucket:   getEnv("SNAPSHOT_BUCKET", "crdt-snapshots"),
		AttachmentBucket: getEnv("ATTACHMENT_BUCKET", "attachments"),

		// Snapshot pipeline
		SnapshotThreshold: getEnvInt("SNAPSHOT_THRESHOLD_UPDATES", 200),
		WorkerInterval:    getEnvMillis("SNAPSHOT_WORKER_INTERVAL_MS", 30*time.Second),
		SnapshotSizeLimit: int64(getEnvInt("SNAPSHOT_SIZE_LIMIT_MB", 5)) * 1024 * 1024,

		// Session runtime
		Debounce:       getEnvMillis("HOCUSPOCUS_DEBOUNCE", 2*time.Second),
		MaxDebounce:    getEnvMillis("HOCUSPOCUS_MAX_DEBOUNCE", 10*time.Second),
		SessionTimeout: getEnvMillis("HOCUSPOCUS_TIMEOUT", 30*time.Second),
		IdleTTL:        getEnvMillis("REPLICA_IDLE_TTL_MS", 30*time.Second),

		// Gateway
		AllowedOrigins: splitOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		RateLimitRPS:   float64(getEnvInt("RATE_LIMIT_RPS", 50)),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 100),

		// SMTP
		SMTPHost: getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort: getEnvInt("SMTP_PORT", 587),
		SMTPUser: getEnv("SMTP_USER", ""),
		SMTPPass: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom: getEnv("SMTP_FROM", "noreply@example.com"),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
	}

	cfg.DBUrl = cfg.buildDBUrl()

	return cfg
}

// Validate enforces settings that must not fall back to defaults.
func (cfg *Config) Validate() error {
	if cfg.JWTSecret == "" && cfg.AuthServiceURL == "" {
		return fmt.Errorf("either JWT_SECRET or AUTH_SERVICE_URL must be configured")
	}
	if cfg.IsProduction() && len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		return fmt.Errorf("ALLOWED_ORIGINS must be an explicit list in production")
	}
	if cfg.MaxDebounce < cfg.Debounce {
		return fmt.Errorf("HOCUSPOCUS_MAX_DEBOUNCE (%s) must be >= HOCUSPOCUS_DEBOUNCE (%s)", cfg.MaxDebounce, cfg.Debounce)
	}
	return nil
}

func (cfg *Config) buildDBUrl() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func (cfg *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
}

func (cfg *Config) MinioEndpoint() string {
	scheme := "http"
	if cfg.MinioUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, cfg.MinioHost, cfg.MinioPort)
}

func (cfg *Config) IsDevelopment() bool {
	return cfg.Env == "development"
}

func (cfg *Config) IsProduction() bool {
	return cfg.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
