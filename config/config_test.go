package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, RecordBackendFile, cfg.RecordBackend)
	assert.Equal(t, LedgerBackendFile, cfg.LedgerBackend)
	assert.Equal(t, filepath.Join("wallet-data", "accounts.json"), cfg.RegistryPath())
	assert.Equal(t, filepath.Join("wallet-data", "keystores"), cfg.KeystoreDir())
	assert.Equal(t, filepath.Join("wallet-data", "nonce_tracker.json"), cfg.LedgerPath())
}

func TestParse(t *testing.T) {
	cfg := Default()
	err := Parse([]byte(`
dataDir: /var/lib/wallet
ledgerBackend: iavl
kdfWorkers: 4
unlockRate: 0
metricsEnabled: true
`), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/wallet", cfg.DataDir)
	assert.Equal(t, LedgerBackendIAVL, cfg.LedgerBackend)
	assert.Equal(t, 4, cfg.KDFWorkers)
	assert.Equal(t, float64(0), cfg.UnlockRate, "explicit zero overrides the default")
	assert.Equal(t, 5, cfg.UnlockBurst, "absent keys keep the default")
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, RecordBackendFile, cfg.RecordBackend)

	t.Run("unknown key", func(t *testing.T) {
		cfg := Default()
		assert.Error(t, Parse([]byte("dataDri: x\n"), &cfg))
	})

	t.Run("empty document", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, Parse(nil, &cfg))
		assert.Equal(t, Default(), cfg)
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"AIRGAP_WALLET_DATA_DIR":        " /tmp/w ",
		"AIRGAP_WALLET_RECORD_BACKEND":  "keychain",
		"AIRGAP_WALLET_KDF_WORKERS":     "3",
		"AIRGAP_WALLET_UNLOCK_RATE":     "0.5",
		"AIRGAP_WALLET_METRICS_ENABLED": "true",
		"AIRGAP_WALLET_LOG_LEVEL":       "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnvOverrides(&cfg, lookup))
	assert.Equal(t, "/tmp/w", cfg.DataDir)
	assert.Equal(t, RecordBackendKeychain, cfg.RecordBackend)
	assert.Equal(t, 3, cfg.KDFWorkers)
	assert.Equal(t, 0.5, cfg.UnlockRate)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "info", cfg.LogLevel, "blank values are ignored")

	env["AIRGAP_WALLET_KDF_WORKERS"] = "many"
	env["AIRGAP_WALLET_LOG_JSON"] = "maybe"
	err := ApplyEnvOverrides(&cfg, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AIRGAP_WALLET_KDF_WORKERS")
	assert.Contains(t, err.Error(), "AIRGAP_WALLET_LOG_JSON")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = " " }},
		{"bad record backend", func(c *Config) { c.RecordBackend = "s3" }},
		{"keychain without service", func(c *Config) { c.RecordBackend = RecordBackendKeychain; c.KeychainService = "" }},
		{"bad ledger backend", func(c *Config) { c.LedgerBackend = "postgres" }},
		{"no workers", func(c *Config) { c.KDFWorkers = 0 }},
		{"negative rate", func(c *Config) { c.UnlockRate = -1 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\nkdfWorkers: 1\n"), 0o600))

	t.Setenv("AIRGAP_WALLET_KDF_WORKERS", "2")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.KDFWorkers, "environment wins over file")

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "wallet-data", cfg.DataDir)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogJSON = true
	cfg.LogLevel = "error"

	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Error("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
