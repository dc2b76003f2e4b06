package config_test

import (
	"testing"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LLM_SERVICE_URL", "")
	t.Setenv("SHADOW_MODE", "")
	t.Setenv("SIGILZERO_REPO_ROOT", "")
	t.Setenv("SIGILZERO_DOCTRINE_ROOT", "")
	t.Setenv("SIGILZERO_INDEX_DRIVER", "")
	t.Setenv("SIGILZERO_MIRROR_STORAGE_TYPE", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.False(t, cfg.ShadowMode)
	assert.Equal(t, ".", cfg.RepoRoot)
	assert.Equal(t, "./doctrine", cfg.DoctrineRoot)
	assert.Equal(t, "sqlite", cfg.IndexDriver)
	assert.Equal(t, "none", cfg.MirrorStorageType)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("LLM_SERVICE_URL", "http://remote-llm:8080/v1")
	t.Setenv("SHADOW_MODE", "true")
	t.Setenv("SIGILZERO_REPO_ROOT", "/srv/sigilzero")
	t.Setenv("SIGILZERO_INDEX_DRIVER", "postgres")
	t.Setenv("SIGILZERO_LOCK_REDIS_ADDR", "localhost:6379")
	t.Setenv("SIGILZERO_MIRROR_STORAGE_TYPE", "s3")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.True(t, cfg.ShadowMode)
	assert.Equal(t, "http://remote-llm:8080/v1", cfg.LLMServiceURL)
	assert.Equal(t, "/srv/sigilzero", cfg.RepoRoot)
	assert.Equal(t, "postgres", cfg.IndexDriver)
	assert.Equal(t, "localhost:6379", cfg.LockRedisAddr)
	assert.Equal(t, "s3", cfg.MirrorStorageType)
}
