package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_OverridesDefaults(t *testing.T) {
	cfg := Default()
	raw := []byte(`
http:
  addr: ":9090"
redis:
  stock_snapshot_ttl: 5s
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
checkout:
  idempotency_ttl: 1h
`)

	require.NoError(t, Parse(raw, &cfg))

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Redis.StockSnapshotTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Checkout.IdempotencyTTL)
	// untouched sections keep their defaults
	assert.Equal(t, ":50051", cfg.GRPC.Addr)
	assert.Equal(t, 50, cfg.MySQL.MaxOpenConns)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mysql:\n  dsn: file-dsn\n"), 0o600))

	t.Setenv("LEDGER_CONFIG", path)
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file-dsn", cfg.MySQL.DSN)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mysql:\n  dsn: file-dsn\n"), 0o600))

	t.Setenv("LEDGER_CONFIG", path)
	t.Setenv("MYSQL_DSN", "env-dsn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-dsn", cfg.MySQL.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("LEDGER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Kafka.Enabled = true
	cfg.Kafka.Topic = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MySQL.DSN = ""
	assert.Error(t, cfg.Validate())
}
