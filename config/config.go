package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Collection
	Symbols     string
	SymbolsFile string
	PollCron    string

	// Storage
	StoreBackend   string // "sqlite" or "mongo"
	SQLitePath     string
	MongoURI       string
	MongoDB        string
	RedisAddr      string
	RedisPassword  string
	CandleCacheTTL time.Duration

	// Exchange
	BinanceBaseURL string
	BinanceWSURL   string
	BinanceRPS     float64
	StreamEnabled  bool // also ingest the miniTicker WebSocket stream

	// Serving
	HTTPAddr    string
	MetricsAddr string

	// Logging
	LogLevel string
	LogDev   bool
}

// Load reads a .env file if present, then configuration from environment
// variables with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}

	return &Config{
		Symbols:     getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"),
		SymbolsFile: getEnv("SYMBOLS_FILE", ""),
		PollCron:    getEnv("POLL_CRON", "@every 1m"),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
		SQLitePath:     getEnv("SQLITE_PATH", "data/prices.db"),
		MongoURI:       getEnv("MONGO_URI", mongoURIFromHostPort()),
		MongoDB:        getEnv("MONGO_DB", "cryptoCollector"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		CandleCacheTTL: getDuration("CANDLE_CACHE_TTL", 30*time.Second),

		BinanceBaseURL: getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443"),
		BinanceRPS:     getFloat("BINANCE_RPS", 10),
		StreamEnabled:  getBool("STREAM_ENABLED", false),

		HTTPAddr:    getEnv("HTTP_ADDR", ":7070"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDev:   getBool("LOG_DEV", false),
	}
}

// ParseSymbols returns the configured symbol list, upper-cased and
// de-duplicated in first-seen order. When SymbolsFile is set it takes
// precedence over Symbols and must hold a JSON array of strings.
func (c *Config) ParseSymbols() ([]string, error) {
	var raw []string
	if c.SymbolsFile != "" {
		b, err := os.ReadFile(c.SymbolsFile)
		if err != nil {
			return nil, fmt.Errorf("read symbols file: %w", err)
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("parse symbols file %s: %w", c.SymbolsFile, err)
		}
	} else {
		raw = strings.Split(c.Symbols, ",")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	return out, nil
}

func mongoURIFromHostPort() string {
	return fmt.Sprintf("mongodb://%s:%s/", getEnv("MONGO_HOST", "localhost"), getEnv("MONGO_PORT", "27017"))
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}
