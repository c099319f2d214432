package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Upload   UploadConfig
	Email    EmailConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host            string        `mapstructure:"HOST"`
	Port            int           `mapstructure:"PORT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	Environment     string        `mapstructure:"ENVIRONMENT"` // development, staging, production
	AllowedOrigins  string        `mapstructure:"ALLOWED_ORIGINS"`
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds configuration for the project database
type DatabaseConfig struct {
	Driver       string        `mapstructure:"DRIVER"` // postgres or sqlite
	SQLitePath   string        `mapstructure:"SQLITE_PATH"`
	URL          string        `mapstructure:"URL"`
	Host         string        `mapstructure:"HOST"`
	Port         int           `mapstructure:"PORT"`
	User         string        `mapstructure:"USER"`
	Password     string        `mapstructure:"PASSWORD"`
	Name         string        `mapstructure:"NAME"`
	SSLMode      string        `mapstructure:"SSL_MODE"`
	MaxOpenConns int           `mapstructure:"MAX_OPEN_CONNS"`
	MaxIdleConns int           `mapstructure:"MAX_IDLE_CONNS"`
	MaxLifetime  time.Duration `mapstructure:"MAX_LIFETIME"`
}

// DSN returns the data source name for connecting to the database
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// IsSQLite reports whether the embedded sqlite store is selected
func (c *DatabaseConfig) IsSQLite() bool {
	return c.Driver == DriverSQLite
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string `mapstructure:"REDIS_URL"`
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

// Address returns the Redis address
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret        string `mapstructure:"JWT_SECRET"`
	JWTExpiryMinutes int    `mapstructure:"JWT_EXPIRY_MINUTES"`
	AdminEmails      string `mapstructure:"AUTH_ADMIN_EMAILS"` // comma separated
}

// JWTExpiry returns the JWT expiry duration
func (c *AuthConfig) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryMinutes) * time.Minute
}

// IsAdminEmail reports whether email is listed in AUTH_ADMIN_EMAILS
func (c *AuthConfig) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, e := range strings.Split(c.AdminEmails, ",") {
		if strings.ToLower(strings.TrimSpace(e)) == email {
			return true
		}
	}
	return false
}

// StorageConfig holds S3 compatible object storage configuration
type StorageConfig struct {
	Bucket        string `mapstructure:"S3_BUCKET"`
	Region        string `mapstructure:"S3_REGION"`
	Endpoint      string `mapstructure:"S3_ENDPOINT"`
	PathStyle     bool   `mapstructure:"S3_PATH_STYLE"`
	PublicBaseURL string `mapstructure:"S3_PUBLIC_BASE_URL"`
	AccessKey     string `mapstructure:"S3_ACCESS_KEY"`
	SecretKey     string `mapstructure:"S3_SECRET_KEY"`
}

// Enabled reports whether uploads can be stored
func (c *StorageConfig) Enabled() bool {
	return c.Bucket != ""
}

// UploadConfig holds limits for client file uploads
type UploadConfig struct {
	MaxBytes    int64 `mapstructure:"UPLOAD_MAX_BYTES"`
	RatePerHour int   `mapstructure:"UPLOAD_RATE_PER_HOUR"`
}

// EmailConfig holds transactional e-mail configuration
type EmailConfig struct {
	ResendAPIKey string `mapstructure:"RESEND_API_KEY"`
	From         string `mapstructure:"EMAIL_FROM"`
	AppBaseURL   string `mapstructure:"APP_BASE_URL"` // linked from client e-mails
}

// Enabled reports whether e-mails can be sent
func (c *EmailConfig) Enabled() bool {
	return c.ResendAPIKey != ""
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file from current dir or parent dirs (for running from cmd/)
	loadEnvFile()

	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/klarnow/")

	// Ignore error if config file doesn't exist
	_ = v.ReadInConfig()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables (for Railway/PaaS compatibility)
	overrideFromEnv(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// overrideFromEnv reads common environment variables and overrides config values
func overrideFromEnv(config *Config) {
	// Database
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = strings.ToLower(driver)
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		config.Database.SQLitePath = path
	}

	// Redis
	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Redis.URL = url
	}

	// Auth
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if val := os.Getenv("JWT_EXPIRY_MINUTES"); val != "" {
		if minutes, err := strconv.Atoi(val); err == nil {
			config.Auth.JWTExpiryMinutes = minutes
		}
	}
	if val := os.Getenv("AUTH_ADMIN_EMAILS"); val != "" {
		config.Auth.AdminEmails = val
	}

	// Safety net for viper key mismatch
	if config.Auth.JWTExpiryMinutes == 0 {
		config.Auth.JWTExpiryMinutes = 60
	}

	// Server
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Server.Environment = env
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = origins
	}

	// Object storage
	if val := os.Getenv("S3_BUCKET"); val != "" {
		config.Storage.Bucket = val
	}
	if val := os.Getenv("S3_REGION"); val != "" {
		config.Storage.Region = val
	}
	if val := os.Getenv("S3_ENDPOINT"); val != "" {
		config.Storage.Endpoint = val
	}
	if val := os.Getenv("S3_PATH_STYLE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Storage.PathStyle = b
		}
	}
	if val := os.Getenv("S3_PUBLIC_BASE_URL"); val != "" {
		config.Storage.PublicBaseURL = val
	}
	if val := os.Getenv("S3_ACCESS_KEY"); val != "" {
		config.Storage.AccessKey = val
	}
	if val := os.Getenv("S3_SECRET_KEY"); val != "" {
		config.Storage.SecretKey = val
	}

	// Uploads
	if val := os.Getenv("UPLOAD_MAX_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Upload.MaxBytes = n
		}
	}
	if val := os.Getenv("UPLOAD_RATE_PER_HOUR"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Upload.RatePerHour = n
		}
	}
	if config.Upload.MaxBytes == 0 {
		config.Upload.MaxBytes = 10 << 20
	}

	// Email
	if val := os.Getenv("RESEND_API_KEY"); val != "" {
		config.Email.ResendAPIKey = val
	}
	if val := os.Getenv("EMAIL_FROM"); val != "" {
		config.Email.From = val
	}
	if val := os.Getenv("APP_BASE_URL"); val != "" {
		config.Email.AppBaseURL = val
	}
}

func setDefaults(v *viper.Viper) {
	// Server defaults (keys match mapstructure tags)
	v.SetDefault("Server.HOST", "0.0.0.0")
	v.SetDefault("Server.PORT", 8080)
	v.SetDefault("Server.SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("Server.ENVIRONMENT", "development")
	v.SetDefault("Server.ALLOWED_ORIGINS", "https://klarnow.com,https://app.klarnow.com")

	// Database defaults
	v.SetDefault("Database.DRIVER", DriverPostgres)
	v.SetDefault("Database.SQLITE_PATH", "klarnow.db")
	v.SetDefault("Database.HOST", "localhost")
	v.SetDefault("Database.PORT", 5432)
	v.SetDefault("Database.SSL_MODE", "disable")
	v.SetDefault("Database.MAX_OPEN_CONNS", 25)
	v.SetDefault("Database.MAX_IDLE_CONNS", 5)
	v.SetDefault("Database.MAX_LIFETIME", 5*time.Minute)

	// Redis defaults
	v.SetDefault("Redis.REDIS_HOST", "localhost")
	v.SetDefault("Redis.REDIS_PORT", 6379)
	v.SetDefault("Redis.REDIS_DB", 0)

	// Auth defaults
	v.SetDefault("Auth.JWT_EXPIRY_MINUTES", 60)

	// Storage defaults
	v.SetDefault("Storage.S3_REGION", "us-east-1")

	// Upload defaults
	v.SetDefault("Upload.UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("Upload.UPLOAD_RATE_PER_HOUR", 60)

	// Email defaults
	v.SetDefault("Email.EMAIL_FROM", "Klarnow <hello@klarnow.com>")
}

func validate(config *Config) error {
	switch config.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", config.Database.Driver)
	}

	// In production, certain fields are required
	if config.Server.Environment == "production" {
		if config.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	return nil
}

// loadEnvFile attempts to load .env file from current directory or parent directories
func loadEnvFile() {
	if err := godotenv.Load(); err == nil {
		return
	}

	// Walk up to find .env (useful when running from cmd/*)
	dir, err := os.Getwd()
	if err != nil {
		return
	}

	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
