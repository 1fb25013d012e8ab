package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 300, cfg.RenderDPI)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 300*time.Second, cfg.OCR.Timeout)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.False(t, cfg.MinIO.Enabled())
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("RENDER_DPI", "150")
	t.Setenv("WORKERS", "3")
	t.Setenv("TASK_STORE", "Redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 150, cfg.RenderDPI)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"RENDER_DPI":        "5000",
		"WORKERS":           "0",
		"MAX_UPLOAD_MB":     "lots",
		"TASK_STORE":        "postgres",
		"DEFAULT_TASK_TYPE": "poetry",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DATA_DIR", t.TempDir())
			t.Setenv(key, val)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
