package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/availability"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/circuit"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/upstream"
)

// HTTPConfig holds the serving surface settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// EventRPS bounds per-client event ingestion; bursts of twice the rate
	// are tolerated.
	EventRPS float64 `yaml:"event_rps"`
}

// Config is the full service configuration. Defaults cover local development;
// environment variables override defaults and an optional YAML file overrides
// both.
type Config struct {
	KV       kv.Config           `yaml:"kv"`
	Upstream upstream.Config     `yaml:"upstream"`
	HTTP     HTTPConfig          `yaml:"http"`
	Breaker  circuit.Config      `yaml:"breaker"`
	FanOut   availability.FanOut `yaml:"fan_out"`

	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`

	// BatchDelay is the reserved coalescer grouping delay. Parsed and carried
	// for forward compatibility; the coalescer does not group on time yet.
	BatchDelay time.Duration `yaml:"batch_delay"`

	// PrefetchPlaceIDs is the static place set swept by event-driven
	// availability invalidation.
	PrefetchPlaceIDs []string `yaml:"prefetch_place_ids"`

	// Timezone resolves slot calendar days.
	Timezone string `yaml:"timezone"`
}

// Default returns the local-development configuration.
func Default() Config {
	return Config{
		KV: kv.Config{
			Host: "localhost",
			Port: 6379,
		},
		Upstream: upstream.Config{
			BaseURL: "http://localhost:4000",
			Timeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:     ":3000",
			EventRPS: 50,
		},
		Breaker: circuit.Config{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Timeout:          time.Minute,
		},
		FanOut:     availability.DefaultFanOut,
		RateLimit:  60,
		RateWindow: time.Minute,
		BatchDelay: 50 * time.Millisecond,
		Timezone:   "UTC",
	}
}

// FromEnv layers environment overrides onto the defaults.
func FromEnv() Config {
	cfg := Default()

	envString(&cfg.KV.Host, "KV_HOST")
	envInt(&cfg.KV.Port, "KV_PORT")
	envString(&cfg.KV.Password, "KV_PASSWORD")
	envInt(&cfg.KV.DB, "KV_DB")

	envString(&cfg.Upstream.BaseURL, "UPSTREAM_BASE_URL")
	envString(&cfg.HTTP.Addr, "HTTP_ADDR")

	envInt(&cfg.RateLimit, "RATE_LIMIT")
	envMillis(&cfg.RateWindow, "RATE_WINDOW_MS")
	envMillis(&cfg.BatchDelay, "COALESCE_BATCH_DELAY_MS")

	envUint32(&cfg.Breaker.FailureThreshold, "BREAKER_FAILURE_THRESHOLD")
	envUint32(&cfg.Breaker.SuccessThreshold, "BREAKER_SUCCESS_THRESHOLD")
	envMillis(&cfg.Breaker.Timeout, "BREAKER_TIMEOUT_MS")

	envInt(&cfg.FanOut.Courts, "FAN_OUT_COURTS")
	envInt(&cfg.FanOut.Slots, "FAN_OUT_SLOTS")

	if raw := os.Getenv("PREFETCH_PLACE_IDS"); raw != "" {
		cfg.PrefetchPlaceIDs = splitPlaceIDs(raw)
	}
	envString(&cfg.Timezone, "UPSTREAM_TZ")

	return cfg
}

// Load reads a YAML overlay on top of FromEnv. An empty path returns the
// environment configuration unchanged.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config YAML: %w", err)
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func splitPlaceIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func envMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
