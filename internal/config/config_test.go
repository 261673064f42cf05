package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "irs-form-990", cfg.S3Bucket)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2, cfg.RetryBackoffBase)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
	assert.Equal(t, int64(1073741824), cfg.MaxArchiveBytes)
	assert.Equal(t, []int{2022, 2023, 2024, 2025}, cfg.HistoricalYears)
	assert.Equal(t, 100000, cfg.HistoricalDefaultLimit)
	assert.Empty(t, cfg.KafkaBroker)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("HISTORICAL_YEARS", "2020,2021")
	t.Setenv("MAX_ARCHIVE_BYTES", "1024")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, []int{2020, 2021}, cfg.HistoricalYears)
	assert.Equal(t, int64(1024), cfg.MaxArchiveBytes)
}

func TestKeyTemplates(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "index_2023.csv", cfg.IndexKey(2023))
	assert.Equal(t, "2023/2023_batch_1.zip", cfg.ArchiveKey(2023, "2023_batch_1"))
	assert.Equal(t,
		"https://s3.amazonaws.com/irs-form-990/obj-1_public.xml",
		cfg.XMLURL("obj-1"))
}

func TestLatestYear(t *testing.T) {
	cfg := &Config{HistoricalYears: []int{2022, 2023, 2024}}
	assert.Equal(t, 2024, cfg.LatestYear())

	assert.Zero(t, (&Config{}).LatestYear())
}
