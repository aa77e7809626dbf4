package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/domain"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, domain.Cents(100), cfg.LateFeePerDay)
	assert.Equal(t, 5, cfg.MaxActiveLoans)
	assert.Equal(t, 30, cfg.MaxLoanPeriodDays)
	assert.Equal(t, 14, cfg.DefaultLoanPeriodDays)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Zero(t, cfg.RateLimitRPS)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("LATE_FEE_PER_DAY", "0.75")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("MAX_ACTIVE_LOANS", "3")
	t.Setenv("LIBRARY_TIMEZONE", "Europe/Paris")
	t.Setenv("RATE_LIMIT_RPS", "12.5")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, domain.Cents(75), cfg.LateFeePerDay)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.MaxActiveLoans)
	assert.Equal(t, "Europe/Paris", cfg.Location.String())
	assert.Equal(t, 12.5, cfg.RateLimitRPS)
}

func TestFromEnvReportsEveryBadValue(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "soon")
	t.Setenv("MAX_ACTIVE_LOANS", "0")
	t.Setenv("LATE_FEE_PER_DAY", "1.005")
	t.Setenv("LIBRARY_TIMEZONE", "Mars/Olympus")

	cfg, err := FromEnv()
	require.Error(t, err)
	for _, key := range []string{"LOCK_TIMEOUT", "MAX_ACTIVE_LOANS", "LATE_FEE_PER_DAY", "LIBRARY_TIMEZONE"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.Equal(t, 5, cfg.MaxActiveLoans, "bad values fall back to defaults")
}

func TestDefaultPeriodMustFitMaximum(t *testing.T) {
	t.Setenv("MAX_LOAN_PERIOD_DAYS", "7")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "DEFAULT_LOAN_PERIOD_DAYS")
}

func TestLoadEnvFilesDoesNotOverrideExistingEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_ADDR=:7000\nAUDIT_TOPIC=from-file\n"), 0o644))
	t.Setenv("APP_ADDR", ":9999")
	t.Setenv("AUDIT_TOPIC", "")
	os.Unsetenv("AUDIT_TOPIC")
	t.Chdir(dir)

	LoadEnvFiles()

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "from-file", cfg.AuditTopic)
}
