// cachebench is a CLI tool to exercise the caching subsystem end to end
// against either an in-process store or a real Redis instance.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goobz22/goobs-cache/internal/cache"
	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
	"github.com/goobz22/goobs-cache/internal/cache/serverstore"
)

func main() {
	var (
		mode         string
		useRedis     bool
		redisAddr    string
		cacheSize    int
		compression  int
		password     string
		nonProd      bool
		jsonOutput   bool
		keyCount     int
		valueSizeB   int
		expirationIn time.Duration
	)

	flag.StringVar(&mode, "mode", "two-layer", "cache mode: server, client, two-layer")
	flag.BoolVar(&useRedis, "redis", false, "back the authoritative tier with Redis instead of memory")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address, used with -redis")
	flag.IntVar(&cacheSize, "cache-size", 1000, "fast-tier entry capacity")
	flag.IntVar(&compression, "compression", 6, "flate compression level, 0-9")
	flag.StringVar(&password, "password", "", "encryption password; falls back to ENCRYPTION_PASSWORD or a dev default")
	flag.BoolVar(&nonProd, "non-production", true, "allow the deterministic development password fallback")
	flag.BoolVar(&jsonOutput, "json", false, "print the run report as JSON")
	flag.IntVar(&keyCount, "keys", 100, "number of keys to round-trip")
	flag.IntVar(&valueSizeB, "value-size", 256, "size in bytes of each exercised value")
	flag.DurationVar(&expirationIn, "expires-in", time.Hour, "expiration offset applied to each write")
	flag.Parse()

	cfg := cache.Default()
	cfg.CacheSize = cacheSize
	cfg.CompressionLevel = compression
	cfg.EncryptionPassword = password
	cfg.NonProduction = nonProd
	cfg.Logger = logrus.New()

	var store serverstore.Store
	if useRedis {
		rs := serverstore.NewRedisStore(serverstore.RedisConfig{Addr: redisAddr})
		defer rs.Close()
		store = rs
	} else {
		store = serverstore.NewMemStore()
	}

	ctx := context.Background()
	engine, err := cache.New(ctx, cfg, store, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cachebench: construct engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close(ctx)

	report := runBench(ctx, engine, cache.Mode(mode), keyCount, valueSizeB, expirationIn)

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("mode=%s keys=%d writes_ok=%d reads_ok=%d mismatches=%d errors=%d elapsed=%s\n",
			mode, report.Keys, report.WritesOK, report.ReadsOK, report.Mismatches, report.Errors, report.Elapsed)
	}

	if report.Errors > 0 || report.Mismatches > 0 {
		os.Exit(1)
	}
}

// benchReport summarizes one round of write-then-read exercising.
type benchReport struct {
	Keys       int           `json:"keys"`
	WritesOK   int           `json:"writes_ok"`
	ReadsOK    int           `json:"reads_ok"`
	Mismatches int           `json:"mismatches"`
	Errors     int           `json:"errors"`
	Elapsed    time.Duration `json:"elapsed"`
}

func runBench(ctx context.Context, engine *cache.Engine, mode cache.Mode, keyCount, valueSize int, expiresIn time.Duration) benchReport {
	started := time.Now()
	report := benchReport{Keys: keyCount}

	payload := make([]byte, valueSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	value := cachecore.String(string(payload))

	for i := 0; i < keyCount; i++ {
		id := fmt.Sprintf("bench-%d", i)
		if err := engine.Set(ctx, id, "cachebench", value, mode, time.Now().Add(expiresIn)); err != nil {
			report.Errors++
			continue
		}
		report.WritesOK++
	}

	for i := 0; i < keyCount; i++ {
		id := fmt.Sprintf("bench-%d", i)
		res, err := engine.Get(ctx, id, "cachebench", mode)
		if err != nil {
			report.Errors++
			continue
		}
		if !res.Found || res.Value.Kind != value.Kind || res.Value.String != value.String {
			report.Mismatches++
			continue
		}
		report.ReadsOK++
	}

	report.Elapsed = time.Since(started)
	return report
}
