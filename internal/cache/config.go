package cache

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
	"github.com/goobz22/goobs-cache/internal/cache/codec"
	"github.com/goobz22/goobs-cache/internal/cache/storage"
)

// nonProductionDefaultPassword is the deterministic fallback used only
// when Config.NonProduction is set and neither Config.EncryptionPassword
// nor $ENCRYPTION_PASSWORD is provided. It must never be reachable in a
// production configuration.
const nonProductionDefaultPassword = "insecure-development-password-do-not-use-in-production"

// Config is the frozen configuration an engine is constructed with. Every
// field from CacheSize through EncryptionPassword corresponds to one row of
// the operation surface's configuration table; NonProduction and Logger are
// engine wiring. New validates eagerly and reports the first offending option.
type Config struct {
	CacheSize           int
	CacheMaxAge         time.Duration
	PersistenceInterval time.Duration
	MaxMemoryUsage      int
	EvictionPolicy      storage.Policy
	PrefetchThreshold   float64
	CompressionLevel    int
	Algorithm           codec.Algorithm
	KeySize             int
	BatchSize           int
	AutoTuneInterval    time.Duration
	KeyCheckInterval    time.Duration
	KeyRotationInterval time.Duration
	ForceReset          bool
	EncryptionPassword  string
	NonProduction       bool
	Logger              *logrus.Logger
}

// Default returns a Config with every numeric/interval field at a sane
// development default; callers still must supply a Store and, in
// production, an EncryptionPassword.
func Default() Config {
	return Config{
		CacheSize:           10_000,
		CacheMaxAge:         time.Hour,
		PersistenceInterval: 30 * time.Second,
		MaxMemoryUsage:      1024 * 1024,
		EvictionPolicy:      storage.PolicyLRU,
		PrefetchThreshold:   0.5,
		CompressionLevel:    6,
		Algorithm:           codec.AlgorithmAES256GCM,
		KeySize:             256,
		BatchSize:           100,
		AutoTuneInterval:    time.Minute,
		KeyCheckInterval:    time.Minute,
		KeyRotationInterval: 24 * time.Hour,
	}
}

// resolveEncryptionPassword applies the password precedence: explicit
// config value, then $ENCRYPTION_PASSWORD, then (only outside production)
// the deterministic fallback.
func (c Config) resolveEncryptionPassword() (string, error) {
	if c.EncryptionPassword != "" {
		return c.EncryptionPassword, nil
	}
	if v := os.Getenv("ENCRYPTION_PASSWORD"); v != "" {
		return v, nil
	}
	if c.NonProduction {
		return nonProductionDefaultPassword, nil
	}
	return "", &cachecore.ValidationError{Kind: cachecore.ErrInvalidEncryptionPassword, Field: "encryption-password", Got: "<empty>"}
}

// validate reports the first invalid option it encounters, walking the
// fields in declaration order.
func (c Config) validate() error {
	if c.CacheSize <= 0 {
		return invalid(cachecore.ErrInvalidCacheSize, "cache-size", c.CacheSize)
	}
	if c.CacheMaxAge <= 0 {
		return invalid(cachecore.ErrInvalidCacheMaxAge, "cache-max-age", c.CacheMaxAge)
	}
	if c.PersistenceInterval <= 0 {
		return invalid(cachecore.ErrInvalidPersistenceInterval, "persistence-interval", c.PersistenceInterval)
	}
	if c.MaxMemoryUsage <= 0 {
		return invalid(cachecore.ErrInvalidMaxMemoryUsage, "max-memory-usage", c.MaxMemoryUsage)
	}
	switch c.EvictionPolicy {
	case storage.PolicyLRU, storage.PolicyLFU, storage.PolicyAdaptive:
	default:
		return invalid(cachecore.ErrInvalidEvictionPolicy, "eviction-policy", c.EvictionPolicy)
	}
	if c.PrefetchThreshold < 0 || c.PrefetchThreshold > 1 {
		return invalid(cachecore.ErrInvalidPrefetchThreshold, "prefetch-threshold", c.PrefetchThreshold)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return invalid(cachecore.ErrInvalidCompressionLevel, "compression-level", c.CompressionLevel)
	}
	if c.Algorithm != codec.AlgorithmAES256GCM {
		return invalid(cachecore.ErrInvalidAlgorithm, "algorithm", c.Algorithm)
	}
	if c.KeySize != 256 {
		return invalid(cachecore.ErrInvalidKeySize, "key-size", c.KeySize)
	}
	if c.BatchSize <= 0 {
		return invalid(cachecore.ErrInvalidBatchSize, "batch-size", c.BatchSize)
	}
	if c.AutoTuneInterval <= 0 {
		return invalid(cachecore.ErrInvalidAutoTuneInterval, "auto-tune-interval", c.AutoTuneInterval)
	}
	if c.KeyCheckInterval <= 0 {
		return invalid(cachecore.ErrInvalidKeyCheckInterval, "key-check-interval", c.KeyCheckInterval)
	}
	if c.KeyRotationInterval <= 0 {
		return invalid(cachecore.ErrInvalidKeyRotationInterval, "key-rotation-interval", c.KeyRotationInterval)
	}
	return nil
}

func invalid(kind error, field string, got interface{}) error {
	return &cachecore.ValidationError{Kind: kind, Field: field, Got: fmt.Sprintf("%v", got)}
}
