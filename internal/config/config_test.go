package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "redis", cfg.QueueDriver)
	assert.Equal(t, 30*time.Minute, cfg.BlogUploadOffset)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.WebhookRejectTerminal)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLogFormatFollowsEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "json", cfg.LogFormat)

	t.Setenv("LOG_FORMAT", "Console")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: \"9000\"\nblog_upload_offset: 45m\nqueue_driver: memory\n"), 0o644))

	t.Setenv("QUEUE_DRIVER", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("WEBHOOK_REJECT_TERMINAL", "true")
	t.Setenv("WEBHOOK_BASE_URL", "https://pipeline.example.com/")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, 45*time.Minute, cfg.BlogUploadOffset)
	assert.Equal(t, "kafka", cfg.QueueDriver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.WebhookRejectTerminal)
	assert.Equal(t, "https://pipeline.example.com", cfg.WebhookBaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLocation(t *testing.T) {
	loc, err := Config{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = Config{SchedulerTimezone: "Asia/Seoul"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())

	_, err = Config{SchedulerTimezone: "Mars/Olympus"}.Location()
	require.Error(t, err)
}
