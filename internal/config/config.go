package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// s3MinChunkSize is the floor S3 puts on multipart copy parts: every
// part except the last must be at least 5MB, so chunks below that can
// never be composed on the s3 backend.
const s3MinChunkSize = 5 * 1024 * 1024

// Config holds all application configuration.
type Config struct {
	Port   string
	DBPath string

	// Storage backend: "filesystem" or "s3"
	StorageBackend string
	UploadDir      string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PathStyle       bool // Path-style addressing (required for MinIO)

	// Session backend: "memory" or "dynamodb"
	SessionBackend string
	DynamoTable    string

	SessionTTLHours     int   // Fixed at session creation, never extended
	MinChunkSize        int64 // Lower bound of the accepted chunk size band
	MaxChunkSize        int64 // Upper bound of the accepted chunk size band
	MaxChunks           int   // Cap on chunks per upload
	MaxFileSize         int64
	MaxSingleUploadSize int64 // Above this, clients must use the chunked path

	SweepIntervalMinutes   int
	FailedRetentionDays    int
	AccessLogRetentionDays int

	SignedURLTTLMinutes int

	UpstreamRetryAttempts int // Bounded retries for blob/metadata I/O
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		DBPath:                 getEnv("DB_PATH", "./filedepot.db"),
		StorageBackend:         getEnv("STORAGE_BACKEND", "filesystem"),
		UploadDir:              getEnv("UPLOAD_DIR", "./data"),
		S3Bucket:               getEnv("S3_BUCKET", ""),
		S3Region:               getEnv("S3_REGION", ""),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:          getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:      getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3PathStyle:            getEnvBool("S3_PATH_STYLE", false),
		SessionBackend:         getEnv("SESSION_BACKEND", "memory"),
		DynamoTable:            getEnv("DYNAMO_TABLE", ""),
		SessionTTLHours:        getEnvInt("SESSION_TTL_HOURS", 24),
		MinChunkSize:           getEnvInt64("MIN_CHUNK_SIZE", 1048576),  // 1MB
		MaxChunkSize:           getEnvInt64("MAX_CHUNK_SIZE", 10485760), // 10MB
		MaxChunks:              getEnvInt("MAX_CHUNKS", 10000),
		MaxFileSize:            getEnvInt64("MAX_FILE_SIZE", 10737418240), // 10GB
		MaxSingleUploadSize:    getEnvInt64("MAX_SINGLE_UPLOAD_SIZE", 10485760),
		SweepIntervalMinutes:   getEnvInt("SWEEP_INTERVAL_MINUTES", 60),
		FailedRetentionDays:    getEnvInt("FAILED_RETENTION_DAYS", 7),
		AccessLogRetentionDays: getEnvInt("ACCESS_LOG_RETENTION_DAYS", 90),
		SignedURLTTLMinutes:    getEnvInt("SIGNED_URL_TTL_MINUTES", 60),
		UpstreamRetryAttempts:  getEnvInt("UPSTREAM_RETRY_ATTEMPTS", 3),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures configuration values are sensible.
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}

	switch c.StorageBackend {
	case "filesystem":
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR cannot be empty for the filesystem backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
		if c.MinChunkSize < s3MinChunkSize {
			return fmt.Errorf("MIN_CHUNK_SIZE must be at least %d for the s3 backend (multipart copy part minimum), got %d",
				int64(s3MinChunkSize), c.MinChunkSize)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"filesystem\" or \"s3\", got %q", c.StorageBackend)
	}

	switch c.SessionBackend {
	case "memory":
	case "dynamodb":
		if c.DynamoTable == "" {
			return fmt.Errorf("DYNAMO_TABLE is required for the dynamodb session backend")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be \"memory\" or \"dynamodb\", got %q", c.SessionBackend)
	}

	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive, got %d", c.SessionTTLHours)
	}

	if c.MinChunkSize <= 0 {
		return fmt.Errorf("MIN_CHUNK_SIZE must be positive, got %d", c.MinChunkSize)
	}

	if c.MaxChunkSize < c.MinChunkSize {
		return fmt.Errorf("MAX_CHUNK_SIZE (%d) cannot be below MIN_CHUNK_SIZE (%d)", c.MaxChunkSize, c.MinChunkSize)
	}

	if c.MaxChunks <= 0 {
		return fmt.Errorf("MAX_CHUNKS must be positive, got %d", c.MaxChunks)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}

	if c.MaxSingleUploadSize <= 0 {
		return fmt.Errorf("MAX_SINGLE_UPLOAD_SIZE must be positive, got %d", c.MaxSingleUploadSize)
	}

	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive, got %d", c.SweepIntervalMinutes)
	}

	if c.FailedRetentionDays <= 0 {
		return fmt.Errorf("FAILED_RETENTION_DAYS must be positive, got %d", c.FailedRetentionDays)
	}

	if c.AccessLogRetentionDays <= 0 {
		return fmt.Errorf("ACCESS_LOG_RETENTION_DAYS must be positive, got %d", c.AccessLogRetentionDays)
	}

	if c.SignedURLTTLMinutes <= 0 {
		return fmt.Errorf("SIGNED_URL_TTL_MINUTES must be positive, got %d", c.SignedURLTTLMinutes)
	}

	if c.UpstreamRetryAttempts <= 0 {
		return fmt.Errorf("UPSTREAM_RETRY_ATTEMPTS must be positive, got %d", c.UpstreamRetryAttempts)
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}
