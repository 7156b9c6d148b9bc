package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	SMS      SMSConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StoreConfig selects the OTP store backend: "memory" for a single instance,
// "redis" when running more than one.
type StoreConfig struct {
	Backend string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type OTPConfig struct {
	Length         int
	Expiry         time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	SweepInterval  time.Duration
}

// SMSConfig configures the outbound gateway. Provider "log" writes codes to
// the application log instead of dispatching.
type SMSConfig struct {
	Provider string
	APIKey   string
	SenderID string
	Endpoint string
	Timeout  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Backend: getEnv("OTP_STORE_BACKEND", "memory"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "SinglespineAuth"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			Length:         getEnvAsInt("OTP_LENGTH", 6),
			Expiry:         getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			MaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			ResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", 2*time.Minute),
			SweepInterval:  getEnvAsDuration("OTP_SWEEP_INTERVAL", 30*time.Minute),
		},
		SMS: SMSConfig{
			Provider: getEnv("SMS_PROVIDER", "log"),
			APIKey:   getEnv("SMS_API_KEY", ""),
			SenderID: getEnv("SMS_SENDER_ID", "Singlespine"),
			Endpoint: getEnv("SMS_ENDPOINT", ""),
			Timeout:  getEnvAsDuration("SMS_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.JWT.SecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(cfg.JWT.SecretKey) < 32 {
		return nil, fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if cfg.Store.Backend != "memory" && cfg.Store.Backend != "redis" {
		return nil, fmt.Errorf("OTP_STORE_BACKEND must be \"memory\" or \"redis\", got %q", cfg.Store.Backend)
	}

	if cfg.SMS.Provider == "arkesel" && cfg.SMS.APIKey == "" {
		return nil, fmt.Errorf("SMS_API_KEY is required when SMS_PROVIDER=arkesel")
	}

	if cfg.OTP.ResendCooldown >= cfg.OTP.Expiry {
		return nil, fmt.Errorf("OTP_RESEND_COOLDOWN must be shorter than OTP_EXPIRY")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
