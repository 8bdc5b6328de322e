package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	DynamoDB DynamoDBConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	OTP      OTPConfig
	Mail     MailConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Env          string
	Lang         string
}

// StorageConfig selects the backend for each repository.
type StorageConfig struct {
	Users string
	OTP   string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

type RedisConfig struct {
	Endpoint  string
	Password  string
	DB        int
	KeyPrefix string
}

type OTPConfig struct {
	Length              int
	Expiry              time.Duration
	ResendWindow        time.Duration
	Pepper              string
	InvalidateOnReissue bool
	DebugLogCode        bool
}

type MailConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type SecurityConfig struct {
	BcryptCost int
}

func Load() (*Config, error) {
	userStore := strings.ToLower(getEnv("USER_STORE", "memory"))

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			Env:          strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
			Lang:         strings.ToLower(getEnv("APP_LANG", "en")),
		},
		Storage: StorageConfig{
			Users: userStore,
			OTP:   strings.ToLower(getEnv("OTP_STORE", userStore)),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "ClassroomTable"),
		},
		Postgres: PostgresConfig{
			DSN:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLife:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Endpoint:  getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "classroom"),
		},
		OTP: OTPConfig{
			Length:              getEnvAsInt("OTP_LENGTH", 6),
			Expiry:              getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			ResendWindow:        getEnvAsDuration("OTP_RESEND_WINDOW", 60*time.Second),
			Pepper:              getEnv("OTP_PEPPER", ""),
			InvalidateOnReissue: getEnvAsBool("OTP_INVALIDATE_ON_REISSUE", true),
			DebugLogCode:        getEnvAsBool("OTP_DEBUG_LOG_CODE", false),
		},
		Mail: MailConfig{
			Driver:   strings.ToLower(getEnv("MAIL_DRIVER", "log")),
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("SMTP_FROM", ""),
		},
		Security: SecurityConfig{
			BcryptCost: getEnvAsInt("BCRYPT_COST", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations that are unusable or that would leak
// plaintext OTP codes into production logs.
func (c *Config) Validate() error {
	switch c.Server.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Server.Env)
	}

	switch c.Storage.Users {
	case "memory", "dynamodb", "postgres":
	default:
		return fmt.Errorf("unsupported USER_STORE %q", c.Storage.Users)
	}

	switch c.Storage.OTP {
	case "memory", "dynamodb", "postgres", "redis":
	default:
		return fmt.Errorf("unsupported OTP_STORE %q", c.Storage.OTP)
	}

	if (c.Storage.Users == "postgres" || c.Storage.OTP == "postgres") && c.Postgres.DSN == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required for the postgres store")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.OTP.Expiry <= 0 || c.OTP.ResendWindow <= 0 {
		return fmt.Errorf("OTP_EXPIRY and OTP_RESEND_WINDOW must be positive")
	}

	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Host == "" || c.Mail.From == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required for the smtp mail driver")
		}
	default:
		return fmt.Errorf("unsupported MAIL_DRIVER %q", c.Mail.Driver)
	}

	if c.Server.Env == EnvProduction {
		if c.OTP.DebugLogCode {
			return fmt.Errorf("OTP_DEBUG_LOG_CODE must be disabled in production")
		}
		if c.Mail.Driver == "log" {
			return fmt.Errorf("MAIL_DRIVER=log is not allowed in production")
		}
		if c.Storage.Users == "memory" || c.Storage.OTP == "memory" {
			return fmt.Errorf("memory stores are not allowed in production")
		}
	}

	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
