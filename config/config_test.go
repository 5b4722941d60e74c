package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "DATABASE_DRIVER", "DATABASE_LOCK_TIMEOUT", "KAFKA_BROKERS",
		"BUSINESS_DEFAULT_PAGE_SIZE", "BUSINESS_MAX_PAGE_SIZE", "BUSINESS_RESTOCK_ON_CANCEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 50, cfg.Business.DefaultPageSize)
	assert.Equal(t, 200, cfg.Business.MaxPageSize)
	assert.False(t, cfg.Business.RestockOnCancel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:dev.db")
	t.Setenv("DATABASE_LOCK_TIMEOUT", "750ms")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BUSINESS_RESTOCK_ON_CANCEL", "true")
	t.Setenv("BUSINESS_LOW_STOCK_THRESHOLD", "2")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:dev.db", cfg.Database.URL)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.LockTimeout)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Business.RestockOnCancel)
	assert.Equal(t, 2, cfg.Business.LowStockThreshold)
	assert.NoError(t, cfg.ValidateServe())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateServeRequiresSecret(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ValidateServe())
}
