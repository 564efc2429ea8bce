package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/carebridge/pkg/observability"
)

const envPrefix = "CAREBRIDGE_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Identity      IdentityConfig
	AuthCache     AuthCacheConfig
	Webhook       WebhookConfig
	Audit         AuditConfig
	RBAC          RBACConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns host:port for net/http
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	Store    string
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// IdentityConfig holds identity provider settings
type IdentityConfig struct {
	SecretKey         string
	PublishableKey    string
	JWTPublicKey      string
	JWTHMACSecret     string
	OIDCIssuer        string
	OIDCClientID      string
	Issuer            string
	AuthorizedParties []string
	APIURL            string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	ValidateSync      bool
}

// Auth cache backends
const (
	CacheMemory = "memory"
	CacheLRU    = "lru"
	CacheRedis  = "redis"
)

// AuthCacheConfig holds token cache settings
type AuthCacheConfig struct {
	Backend       string
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

// WebhookConfig holds webhook verification and retry settings
type WebhookConfig struct {
	Secret            string
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	Tolerance         time.Duration
	ProcessedTTL      time.Duration
}

// AuditConfig holds audit pipeline settings
type AuditConfig struct {
	RetentionDays     int
	RetentionSchedule string
	BufferSize        int
	ArchiveEnabled    bool
	ArchiveBucket     string
	ArchivePrefix     string
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3UsePathStyle    bool
}

// RBACConfig holds permission model settings
type RBACConfig struct {
	PolicyFile      string
	WatchPolicy     bool
	DefaultDecision string
}

// RateLimitConfig holds per-client limits
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// OTel converts the settings into the observability package config
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Identity:      loadIdentityConfig(),
		AuthCache:     loadAuthCacheConfig(),
		Webhook:       loadWebhookConfig(),
		Audit:         loadAuditConfig(),
		RBAC:          loadRBACConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Store:    strings.ToLower(getEnv("STORE", StorePostgres)),
		URL:      getEnv("DATABASE_URL", ""),
		MaxConns: getEnvInt("DB_MAX_CONNS", 20),
		MinConns: getEnvInt("DB_MIN_CONNS", 2),
		Timeout:  getEnvDuration("DB_TIMEOUT", 5*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("REDIS_URL", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		SecretKey:         getEnv("IDENTITY_SECRET_KEY", ""),
		PublishableKey:    getEnv("IDENTITY_PUBLISHABLE_KEY", ""),
		JWTPublicKey:      getEnv("IDENTITY_JWT_PUBLIC_KEY", ""),
		JWTHMACSecret:     getEnv("IDENTITY_JWT_HMAC_SECRET", ""),
		OIDCIssuer:        getEnv("IDENTITY_OIDC_ISSUER", ""),
		OIDCClientID:      getEnv("IDENTITY_OIDC_CLIENT_ID", ""),
		Issuer:            getEnv("IDENTITY_ISSUER", ""),
		AuthorizedParties: getEnvList("IDENTITY_AUTHORIZED_PARTIES"),
		APIURL:            getEnv("IDENTITY_API_URL", "https://api.clerk.com/v1"),
		TokenURL:          getEnv("IDENTITY_TOKEN_URL", ""),
		ClientID:          getEnv("IDENTITY_CLIENT_ID", ""),
		ClientSecret:      getEnv("IDENTITY_CLIENT_SECRET", ""),
		ValidateSync:      getEnvBool("IDENTITY_VALIDATE_SYNC", true),
	}
}

func loadAuthCacheConfig() AuthCacheConfig {
	return AuthCacheConfig{
		Backend:       strings.ToLower(getEnv("AUTH_CACHE_BACKEND", CacheMemory)),
		TTL:           getEnvDuration("AUTH_CACHE_TTL", 5*time.Minute),
		MaxEntries:    getEnvInt("AUTH_CACHE_MAX_ENTRIES", 1000),
		SweepInterval: getEnvDuration("AUTH_CACHE_SWEEP_INTERVAL", time.Minute),
	}
}

func loadWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Secret:            getEnv("WEBHOOK_SECRET", ""),
		MaxRetries:        getEnvInt("WEBHOOK_MAX_RETRIES", 3),
		RetryDelay:        getEnvDuration("WEBHOOK_RETRY_DELAY", 5*time.Second),
		BackoffMultiplier: getEnvFloat("WEBHOOK_BACKOFF_MULTIPLIER", 1),
		MaxDelay:          getEnvDuration("WEBHOOK_MAX_DELAY", 5*time.Minute),
		Tolerance:         getEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
		ProcessedTTL:      getEnvDuration("WEBHOOK_PROCESSED_TTL", 24*time.Hour),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		RetentionDays:     getEnvInt("AUDIT_RETENTION_DAYS", 365),
		RetentionSchedule: getEnv("AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		BufferSize:        getEnvInt("AUDIT_BUFFER_SIZE", 1024),
		ArchiveEnabled:    getEnvBool("AUDIT_ARCHIVE_ENABLED", false),
		ArchiveBucket:     getEnv("AUDIT_ARCHIVE_BUCKET", ""),
		ArchivePrefix:     getEnv("AUDIT_ARCHIVE_PREFIX", "audit"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		PolicyFile:      getEnv("RBAC_POLICY_FILE", ""),
		WatchPolicy:     getEnvBool("RBAC_WATCH_POLICY", false),
		DefaultDecision: strings.ToLower(getEnv("RBAC_DEFAULT_DECISION", "deny")),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		Burst: getEnvInt("RATE_LIMIT_BURST", 20),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "carebridge"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid. Missing credentials are
// fatal at startup rather than surfacing as 401s later.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%sDATABASE_URL is required for the postgres store", envPrefix)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store: %s (must be postgres or memory)", c.Database.Store)
	}

	if c.Identity.SecretKey == "" {
		return fmt.Errorf("%sIDENTITY_SECRET_KEY is required", envPrefix)
	}
	if c.Identity.PublishableKey == "" {
		return fmt.Errorf("%sIDENTITY_PUBLISHABLE_KEY is required", envPrefix)
	}
	if c.Identity.JWTPublicKey == "" && c.Identity.JWTHMACSecret == "" && c.Identity.OIDCIssuer == "" {
		return fmt.Errorf("a token verification key is required (%sIDENTITY_JWT_PUBLIC_KEY, %sIDENTITY_JWT_HMAC_SECRET or %sIDENTITY_OIDC_ISSUER)",
			envPrefix, envPrefix, envPrefix)
	}
	if c.Identity.TokenURL != "" && (c.Identity.ClientID == "" || c.Identity.ClientSecret == "") {
		return fmt.Errorf("client id and secret are required when %sIDENTITY_TOKEN_URL is set", envPrefix)
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("%sWEBHOOK_SECRET is required", envPrefix)
	}
	if c.Webhook.MaxRetries < 1 {
		return fmt.Errorf("webhook max retries must be at least 1")
	}
	if c.Webhook.BackoffMultiplier < 1 {
		return fmt.Errorf("webhook backoff multiplier must be >= 1")
	}

	switch c.AuthCache.Backend {
	case CacheMemory, CacheLRU:
	case CacheRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%sREDIS_URL is required for the redis auth cache", envPrefix)
		}
	default:
		return fmt.Errorf("invalid auth cache backend: %s (must be memory, lru, or redis)", c.AuthCache.Backend)
	}
	if c.AuthCache.TTL <= 0 {
		return fmt.Errorf("auth cache TTL must be positive")
	}
	if c.AuthCache.MaxEntries < 1 {
		return fmt.Errorf("auth cache max entries must be at least 1")
	}

	switch c.RBAC.DefaultDecision {
	case "allow", "deny":
	default:
		return fmt.Errorf("invalid RBAC default decision: %s (must be allow or deny)", c.RBAC.DefaultDecision)
	}

	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit retention days must be at least 1")
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit buffer size must be at least 1")
	}
	if c.Audit.ArchiveEnabled && c.Audit.ArchiveBucket == "" {
		return fmt.Errorf("%sAUDIT_ARCHIVE_BUCKET is required when archiving is enabled", envPrefix)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns CAREBRIDGE_<key> or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
