package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("S3_BUCKET_NAME", "recordings-test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, int64(64<<20), cfg.Server.MaxChunkBytes)
	assert.Equal(t, "recordings-test", cfg.AWS.RecordingsBucket)
	assert.Equal(t, 7*24*time.Hour, cfg.Recording.FinalizeLinkTTL)
	assert.Equal(t, time.Hour, cfg.Recording.DownloadLinkTTL)
	assert.Zero(t, cfg.Recording.RecoverTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("S3_BUCKET_NAME", "b")
	t.Setenv("MAX_CHUNK_MB", "16")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("RECORDING_DOWNLOAD_LINK_SEC", "60")
	t.Setenv("RECOVER_TIMEOUT_SEC", "7200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(16<<20), cfg.Server.MaxChunkBytes)
	assert.True(t, cfg.AWS.UsePathStyle)
	assert.Equal(t, time.Minute, cfg.Recording.DownloadLinkTTL)
	assert.Equal(t, 2*time.Hour, cfg.Recording.RecoverTimeout)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())

	c.URL = "postgres://elsewhere/db"
	assert.Equal(t, "postgres://elsewhere/db", c.DSN())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_INT", "12")
	t.Setenv("CFG_BAD_INT", "twelve")
	t.Setenv("CFG_BOOL", " true ")
	t.Setenv("CFG_STR", "x")

	assert.Equal(t, 12, GetEnvInt("CFG_INT", 1))
	assert.Equal(t, 1, GetEnvInt("CFG_BAD_INT", 1))
	assert.Equal(t, 3, GetEnvInt("CFG_UNSET_INT", 3))
	assert.True(t, GetEnvBool("CFG_BOOL", false))
	assert.False(t, GetEnvBool("CFG_UNSET_BOOL", false))
	assert.Equal(t, "x", GetEnv("CFG_STR", "y"))
	assert.Equal(t, "y", GetEnv("CFG_UNSET_STR", "y"))
}
