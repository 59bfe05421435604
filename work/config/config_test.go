package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertFromFileParsesDurations(t *testing.T) {
	cf := &ConfigFile{
		BaseURL:         "https://proxy.example",
		TokenTTL:        "300s",
		MetadataTimeout: "30s",
		ResolveTimeout:  "1m",
	}
	cfg, err := convertFromFile(cf)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.MetadataTimeout)
	assert.Equal(t, time.Minute, cfg.ResolveTimeout)
	// absent flag means every variant is exposed
	assert.True(t, cfg.ExposeAllVariants)
}

func TestConvertFromFileRejectsBadDuration(t *testing.T) {
	_, err := convertFromFile(&ConfigFile{TokenTTL: "five minutes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenTTL")
}

func TestExposeAllVariantsExplicitFalse(t *testing.T) {
	off := false
	cfg, err := convertFromFile(&ConfigFile{ExposeAllVariants: &off})
	require.NoError(t, err)
	assert.False(t, cfg.ExposeAllVariants)
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	validateAndSetDefaults(cfg)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 300*time.Second, cfg.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.MetadataTimeout)
	assert.Equal(t, 60*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, 8, cfg.WorkerThreads)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidateDebugImpliesDebugLevel(t *testing.T) {
	cfg := &Config{Debug: true}
	validateAndSetDefaults(cfg)
	assert.Equal(t, "debug", cfg.LogLevel)
}
