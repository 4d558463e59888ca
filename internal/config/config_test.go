package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_TYPE", "sqlite")
	t.Setenv("PURCHASE_TX_TIMEOUT", "5s")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, 5*time.Second, cfg.Purchase.TxTimeout)
	assert.False(t, cfg.Events.KafkaEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_TYPE", "postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("POSTGRES_USER", "shop")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "sweets")
	t.Setenv("POSTGRES_SSLMODE", "disable")
	t.Setenv("PURCHASE_TX_TIMEOUT", "2s")
	t.Setenv("PURCHASE_MAX_RETRIES", "7")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Purchase.TxTimeout)
	assert.Equal(t, uint64(7), cfg.Purchase.MaxRetries)
	assert.Contains(t, cfg.Store.PostgresDSN(), "db")
	assert.Contains(t, cfg.Store.PostgresDSN(), "6543")
	assert.Contains(t, cfg.Store.PostgresDSN(), "sweets")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
	assert.True(t, cfg.Events.KafkaEnabled())
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE_TYPE", "cassandra")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveTimeout(t *testing.T) {
	t.Setenv("STORE_TYPE", "memory")
	t.Setenv("PURCHASE_TX_TIMEOUT", "0s")

	_, err := Load()
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	s := StoreConfig{
		MySQLHost:     "localhost",
		MySQLPort:     3306,
		MySQLName:     "sweetshop",
		MySQLUser:     "root",
		MySQLPassword: "pw",
	}

	assert.Equal(t, "root:pw@tcp(localhost:3306)/sweetshop?parseTime=true&clientFoundRows=true", s.MySQLDSN())
}
