// README: Smoke and race runner against a running dropchain API; prints PASS/FAIL/SKIP per case.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "PASS":
			pass++
		case "FAIL":
			fail++
		case "SKIP":
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL     string
	DSN         string
	RedisAddr   string
	Strict      bool
	Timeout     time.Duration
	Concurrency int
	// Bearer tokens per role; cases needing a missing token are skipped.
	ClientToken   string
	MerchantToken string
	MerchantID    string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("DROPCHAIN_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("DROPCHAIN_DB_DSN"), "Postgres DSN")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("DROPCHAIN_REDIS_ADDR"), "Redis address")
	flag.BoolVar(&cfg.Strict, "strict", false, "Fail on skipped cases")
	flag.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", 20, "Concurrent requests for race cases")
	flag.StringVar(&cfg.ClientToken, "client-token", os.Getenv("DROPCHAIN_BENCH_CLIENT_TOKEN"), "Client ID token")
	flag.StringVar(&cfg.MerchantToken, "merchant-token", os.Getenv("DROPCHAIN_BENCH_MERCHANT_TOKEN"), "Merchant ID token")
	flag.StringVar(&cfg.MerchantID, "merchant-id", os.Getenv("DROPCHAIN_BENCH_MERCHANT_ID"), "Merchant uid behind merchant-token")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
