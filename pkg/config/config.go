package config

import "os"

// Config holds engine configuration, sourced entirely from environment
// variables.
type Config struct {
	Port          string
	LogLevel      string
	DatabaseURL   string
	LLMServiceURL string
	ShadowMode    bool

	// RepoRoot is SIGILZERO_REPO_ROOT: the only path the deterministic
	// core itself reads.
	RepoRoot string
	// DoctrineRoot is the single canonical doctrine root.
	DoctrineRoot string
	// IndexDriver selects the secondary-index backend: "sqlite" (default)
	// or "postgres".
	IndexDriver string
	// IndexDSN is the data source name for the selected index driver.
	IndexDSN string
	// LockRedisAddr, when set, switches the promotion lock (S4) from the
	// in-process default to a Redis-backed distributed lock.
	LockRedisAddr string
	// MirrorStorageType selects the artifact mirror backend: "none"
	// (default), "s3", or "gcs".
	MirrorStorageType string
	// OtelEndpoint, when set, enables OTLP export from the tracing adapter.
	OtelEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://sigilzero@localhost:5433/sigilzero?sslmode=disable"
	}

	llmURL := os.Getenv("LLM_SERVICE_URL")

	shadowMode := os.Getenv("SHADOW_MODE") == "true"

	repoRoot := os.Getenv("SIGILZERO_REPO_ROOT")
	if repoRoot == "" {
		repoRoot = "."
	}

	doctrineRoot := os.Getenv("SIGILZERO_DOCTRINE_ROOT")
	if doctrineRoot == "" {
		doctrineRoot = repoRoot + "/doctrine"
	}

	indexDriver := os.Getenv("SIGILZERO_INDEX_DRIVER")
	if indexDriver == "" {
		indexDriver = "sqlite"
	}

	indexDSN := os.Getenv("SIGILZERO_INDEX_DSN")
	if indexDSN == "" {
		indexDSN = repoRoot + "/index.sqlite"
	}

	mirrorStorageType := os.Getenv("SIGILZERO_MIRROR_STORAGE_TYPE")
	if mirrorStorageType == "" {
		mirrorStorageType = "none"
	}

	return &Config{
		Port:              port,
		LogLevel:          logLevel,
		DatabaseURL:       dbURL,
		LLMServiceURL:     llmURL,
		ShadowMode:        shadowMode,
		RepoRoot:          repoRoot,
		DoctrineRoot:      doctrineRoot,
		IndexDriver:       indexDriver,
		IndexDSN:          indexDSN,
		LockRedisAddr:     os.Getenv("SIGILZERO_LOCK_REDIS_ADDR"),
		MirrorStorageType: mirrorStorageType,
		OtelEndpoint:      os.Getenv("SIGILZERO_OTEL_ENDPOINT"),
	}
}
