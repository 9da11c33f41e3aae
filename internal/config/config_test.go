package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.StorageBackend != "filesystem" {
		t.Errorf("StorageBackend = %s, want filesystem", cfg.StorageBackend)
	}
	if cfg.SessionBackend != "memory" {
		t.Errorf("SessionBackend = %s, want memory", cfg.SessionBackend)
	}
	if cfg.SessionTTLHours != 24 {
		t.Errorf("SessionTTLHours = %d, want 24", cfg.SessionTTLHours)
	}
	if cfg.MinChunkSize != 1048576 || cfg.MaxChunkSize != 10485760 {
		t.Errorf("chunk band = [%d, %d], want [1MB, 10MB]", cfg.MinChunkSize, cfg.MaxChunkSize)
	}
	if cfg.FailedRetentionDays != 7 {
		t.Errorf("FailedRetentionDays = %d, want 7", cfg.FailedRetentionDays)
	}
	if cfg.AccessLogRetentionDays != 90 {
		t.Errorf("AccessLogRetentionDays = %d, want 90", cfg.AccessLogRetentionDays)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL_HOURS", "12")
	t.Setenv("MAX_CHUNKS", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.SessionTTLHours != 12 {
		t.Errorf("SessionTTLHours = %d, want 12", cfg.SessionTTLHours)
	}
	if cfg.MaxChunks != 500 {
		t.Errorf("MaxChunks = %d, want 500", cfg.MaxChunks)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("SESSION_TTL_HOURS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTLHours != 24 {
		t.Errorf("SessionTTLHours = %d, want default 24", cfg.SessionTTLHours)
	}
}

func TestValidate_S3RequiresBucket(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("MIN_CHUNK_SIZE", "5242880")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for s3 backend without bucket")
	}

	t.Setenv("S3_BUCKET", "my-bucket")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with bucket: %v", err)
	}
}

func TestValidate_S3ChunkFloor(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "my-bucket")

	// The default 1MB floor admits chunks that S3 multipart copy
	// rejects as parts, so the s3 backend must refuse it.
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for s3 backend with sub-5MB chunk floor")
	}

	t.Setenv("MIN_CHUNK_SIZE", "5242880")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with 5MB floor: %v", err)
	}

	t.Setenv("MIN_CHUNK_SIZE", "5242879")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error one byte below the 5MB floor")
	}
}

func TestValidate_DynamoRequiresTable(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "dynamodb")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for dynamodb backend without table")
	}

	t.Setenv("DYNAMO_TABLE", "filedepot-sessions")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with table: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"STORAGE_BACKEND":        "ftp",
		"SESSION_BACKEND":        "redis",
		"SESSION_TTL_HOURS":      "-1",
		"SWEEP_INTERVAL_MINUTES": "0",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s: expected validation error", key, value)
			}
		})
	}
}

func TestValidate_ChunkBandOrdering(t *testing.T) {
	t.Setenv("MIN_CHUNK_SIZE", "1000")
	t.Setenv("MAX_CHUNK_SIZE", "500")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error when max < min")
	}
}
