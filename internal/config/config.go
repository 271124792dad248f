package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gogotex/mindmaps/backend/go-services/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Lock      LockConfig
	RateLimit RateLimitConfig
	Keycloak  KeycloakConfig
	Telemetry TelemetryConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// MongoDBConfig: an empty URI keeps metadata, collaborations and history in memory.
type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// RedisConfig: an empty Host disables the event stream and shared rate limits.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }
func (r RedisConfig) Addr() string  { return r.Host + ":" + r.Port }

// MinIOConfig: an empty Endpoint keeps content in memory.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type LockConfig struct {
	Capacity     int
	WarnRatio    float64
	TTL          time.Duration
	ReapInterval time.Duration
}

type RateLimitConfig struct {
	Enabled  bool
	UseRedis bool
	RPS      float64
	Burst    int
	Window   time.Duration
}

type KeycloakConfig struct {
	URL      string
	Realm    string
	ClientID string
	// Insecure skips signature checks; local development only.
	Insecure bool
	// LogoutTTL bounds token revocation when a token has no exp claim.
	LogoutTTL time.Duration
}

// Issuer is the realm's OIDC issuer URL.
func (k KeycloakConfig) Issuer() string {
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5002")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("MONGODB_DATABASE", "mindmaps")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MINIO_BUCKET", "mindmaps")
	v.SetDefault("LOCK_CAPACITY", 1000)
	v.SetDefault("LOCK_WARN_RATIO", 0.8)
	v.SetDefault("LOCK_TTL", "0s")
	v.SetDefault("LOCK_REAP_INTERVAL", "1m")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_USE_REDIS", true)
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", "1s")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "gogotex-mindmaps")
	v.SetDefault("KEYCLOAK_LOGOUT_TTL", "1h")
	v.SetDefault("OTEL_SERVICE_NAME", "gogotex-mindmaps")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Lock: LockConfig{
			Capacity:     v.GetInt("LOCK_CAPACITY"),
			WarnRatio:    v.GetFloat64("LOCK_WARN_RATIO"),
			TTL:          v.GetDuration("LOCK_TTL"),
			ReapInterval: v.GetDuration("LOCK_REAP_INTERVAL"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis: v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:      v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    v.GetInt("RATE_LIMIT_BURST"),
			Window:   v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Keycloak: KeycloakConfig{
			URL:       v.GetString("KEYCLOAK_URL"),
			Realm:     v.GetString("KEYCLOAK_REALM"),
			ClientID:  v.GetString("KEYCLOAK_CLIENT_ID"),
			Insecure:  v.GetBool("ALLOW_INSECURE_TOKEN"),
			LogoutTTL: v.GetDuration("KEYCLOAK_LOGOUT_TTL"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
			OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Keycloak.Insecure {
		logger.Warnf("ALLOW_INSECURE_TOKEN is set; token signatures are not verified")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Lock.Capacity <= 0 {
		return fmt.Errorf("LOCK_CAPACITY must be positive, got %d", c.Lock.Capacity)
	}
	if c.Lock.WarnRatio <= 0 || c.Lock.WarnRatio > 1 {
		return fmt.Errorf("LOCK_WARN_RATIO must be in (0,1], got %v", c.Lock.WarnRatio)
	}
	if c.Lock.TTL < 0 {
		return fmt.Errorf("LOCK_TTL must not be negative")
	}
	if c.MinIO.Endpoint != "" && c.MinIO.Bucket == "" {
		return fmt.Errorf("MINIO_BUCKET is required with MINIO_ENDPOINT")
	}
	if !c.Keycloak.Insecure && (c.Keycloak.URL == "" || c.Keycloak.Realm == "") {
		return fmt.Errorf("KEYCLOAK_URL and KEYCLOAK_REALM are required unless ALLOW_INSECURE_TOKEN is set")
	}
	return nil
}
