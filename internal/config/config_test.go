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
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 3, cfg.Billing.MaxFailures)
	assert.Equal(t, 3, cfg.Billing.RetryDelayDays)
	assert.Equal(t, 50, cfg.Billing.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Billing.ItemDelay)
	assert.Equal(t, 30*time.Second, cfg.Billing.GatewayTimeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yaml")
	content := `
port: "9090"
store_driver: postgres
lease_driver: redis
kafka_brokers: ["k1:9092"]
billing:
  max_failures: 5
  batch_size: 10
  item_delay: 250ms
  gateway_timeout: 5s
  lease_ttl: 1m
  tick_interval: 15m
  incomplete_expiry: 23h
  retry_delay_days: 2
  workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("BILLING_MAX_FAILURES", "7")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "redis", cfg.LeaseDriver)
	assert.Equal(t, 7, cfg.Billing.MaxFailures)
	assert.Equal(t, 10, cfg.Billing.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Billing.ItemDelay)
	assert.Equal(t, 4, cfg.Billing.Workers)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Billing.MaxFailures = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.StoreDriver = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.GatewayDriver = "stripe"
	assert.Error(t, cfg.Validate(), "stripe driver needs a secret key")
	cfg.StripeSecretKey = "sk_test_123"
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.CustomerDirURL = "not a url"
	assert.Error(t, cfg.Validate())
}

func TestLeaseMustOutliveGatewayTimeout(t *testing.T) {
	cfg := Default()
	cfg.Billing.GatewayTimeout = time.Minute
	cfg.Billing.LeaseTTL = time.Minute
	assert.Error(t, cfg.Validate(), "lease equal to the gateway timeout can lapse mid-charge")

	cfg.Billing.LeaseTTL = 30 * time.Second
	assert.Error(t, cfg.Validate())

	cfg.Billing.LeaseTTL = 2 * time.Minute
	assert.NoError(t, cfg.Validate())
}

func TestCustomerDirectoryFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CUSTOMER_DIRECTORY_URL", "http://customers.internal:8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://customers.internal:8080", cfg.CustomerDirURL)
}

func TestInvalidEnvIsIgnored(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("BILLING_BATCH_SIZE", "lots")
	t.Setenv("BILLING_ITEM_DELAY", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Billing.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Billing.ItemDelay)
}
