// Package config loads wallet settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AIRGAP_WALLET_"

// Record backends.
const (
	RecordBackendFile     = "file"
	RecordBackendKeychain = "keychain"
)

// Ledger backends.
const (
	LedgerBackendFile = "file"
	LedgerBackendIAVL = "iavl"
)

// Config holds every runtime setting.
type Config struct {
	DataDir         string  `yaml:"dataDir"`
	RecordBackend   string  `yaml:"recordBackend"`
	KeychainService string  `yaml:"keychainService"`
	LedgerBackend   string  `yaml:"ledgerBackend"`
	KDFWorkers      int     `yaml:"kdfWorkers"`
	UnlockRate      float64 `yaml:"unlockRate"`
	UnlockBurst     int     `yaml:"unlockBurst"`
	LogLevel        string  `yaml:"logLevel"`
	LogJSON         bool    `yaml:"logJSON"`
	MetricsEnabled  bool    `yaml:"metricsEnabled"`
}

// fileConfig mirrors Config with pointers so an absent key keeps the default.
type fileConfig struct {
	DataDir         *string  `yaml:"dataDir"`
	RecordBackend   *string  `yaml:"recordBackend"`
	KeychainService *string  `yaml:"keychainService"`
	LedgerBackend   *string  `yaml:"ledgerBackend"`
	KDFWorkers      *int     `yaml:"kdfWorkers"`
	UnlockRate      *float64 `yaml:"unlockRate"`
	UnlockBurst     *int     `yaml:"unlockBurst"`
	LogLevel        *string  `yaml:"logLevel"`
	LogJSON         *bool    `yaml:"logJSON"`
	MetricsEnabled  *bool    `yaml:"metricsEnabled"`
}

// Default returns the built-in settings: data under ./wallet-data, file
// backends, two KDF workers, five unlock attempts then one every 10s.
func Default() Config {
	return Config{
		DataDir:         "wallet-data",
		RecordBackend:   RecordBackendFile,
		KeychainService: "airgap-wallet",
		LedgerBackend:   LedgerBackendFile,
		KDFWorkers:      2,
		UnlockRate:      0.1,
		UnlockBurst:     5,
		LogLevel:        "info",
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result. An explicit path that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse merges YAML data into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)

	var parsed fileConfig
	if err := dec.Decode(&parsed); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	merge(cfg, parsed)
	return nil
}

// merge copies every field set in src onto dst.
func merge(dst *Config, src fileConfig) {
	if src.DataDir != nil {
		dst.DataDir = *src.DataDir
	}
	if src.RecordBackend != nil {
		dst.RecordBackend = *src.RecordBackend
	}
	if src.KeychainService != nil {
		dst.KeychainService = *src.KeychainService
	}
	if src.LedgerBackend != nil {
		dst.LedgerBackend = *src.LedgerBackend
	}
	if src.KDFWorkers != nil {
		dst.KDFWorkers = *src.KDFWorkers
	}
	if src.UnlockRate != nil {
		dst.UnlockRate = *src.UnlockRate
	}
	if src.UnlockBurst != nil {
		dst.UnlockBurst = *src.UnlockBurst
	}
	if src.LogLevel != nil {
		dst.LogLevel = *src.LogLevel
	}
	if src.LogJSON != nil {
		dst.LogJSON = *src.LogJSON
	}
	if src.MetricsEnabled != nil {
		dst.MetricsEnabled = *src.MetricsEnabled
	}
}

// ApplyEnvOverrides applies AIRGAP_WALLET_* variables found by lookup.
// Malformed numeric or boolean values are errors, not silently ignored.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	parse := func(name string, set func(string) error) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := set(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}

	str("DATA_DIR", &cfg.DataDir)
	str("RECORD_BACKEND", &cfg.RecordBackend)
	str("KEYCHAIN_SERVICE", &cfg.KeychainService)
	str("LEDGER_BACKEND", &cfg.LedgerBackend)
	str("LOG_LEVEL", &cfg.LogLevel)
	parse("KDF_WORKERS", func(v string) (err error) {
		cfg.KDFWorkers, err = strconv.Atoi(v)
		return err
	})
	parse("UNLOCK_RATE", func(v string) (err error) {
		cfg.UnlockRate, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("UNLOCK_BURST", func(v string) (err error) {
		cfg.UnlockBurst, err = strconv.Atoi(v)
		return err
	})
	parse("LOG_JSON", func(v string) (err error) {
		cfg.LogJSON, err = strconv.ParseBool(v)
		return err
	})
	parse("METRICS_ENABLED", func(v string) (err error) {
		cfg.MetricsEnabled, err = strconv.ParseBool(v)
		return err
	})
	return errors.Join(errs...)
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("dataDir cannot be empty")
	}
	switch c.RecordBackend {
	case RecordBackendFile:
	case RecordBackendKeychain:
		if c.KeychainService == "" {
			return fmt.Errorf("keychainService cannot be empty with the keychain backend")
		}
	default:
		return fmt.Errorf("unknown recordBackend %q", c.RecordBackend)
	}
	switch c.LedgerBackend {
	case LedgerBackendFile, LedgerBackendIAVL:
	default:
		return fmt.Errorf("unknown ledgerBackend %q", c.LedgerBackend)
	}
	if c.KDFWorkers < 1 {
		return fmt.Errorf("kdfWorkers must be at least 1, got %d", c.KDFWorkers)
	}
	if c.UnlockRate < 0 || c.UnlockBurst < 0 {
		return fmt.Errorf("unlockRate and unlockBurst cannot be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) (log.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	opts := []log.Option{log.LevelOption(level)}
	if c.LogJSON {
		opts = append(opts, log.OutputJSONOption())
	} else {
		opts = append(opts, log.ColorOption(false))
	}
	return log.NewLogger(w, opts...), nil
}

// RegistryPath is the account registry document.
func (c Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "accounts.json")
}

// KeystoreDir holds one encrypted record per account.
func (c Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystores")
}

// LedgerPath is the JSON nonce ledger used by the file backend.
func (c Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "nonce_tracker.json")
}
