// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. Values come from environment
// variables (.env supported) with documented defaults.
type Config struct {
	Port     int
	LogLevel string
	DevMode  bool
	DataDir  string // empty means in-memory store

	JWTSecret        string
	TokenTTL         time.Duration
	BcryptCost       int
	AllowedCORSPorts []int

	Detector     DetectorConfig
	ReasonEngine ReasonEngineConfig
	Notifier     NotifierConfig
	Briefs       BriefConfig
	Compare      CompareConfig

	HandlerTimeout time.Duration
}

// DetectorConfig holds price-event detection tunables.
type DetectorConfig struct {
	// DefaultThresholdPct maps window minutes to the system default threshold
	// used when no per-user threshold exists.
	DefaultThresholdPct map[int]float64
	// Debounce maps window minutes to the suppression duration after an emit.
	Debounce map[int]time.Duration
	// DeltaPctForRealert bypasses debounce and cooldown when the change since
	// the last emitted event exceeds this many percentage points.
	DeltaPctForRealert float64
	// QueueSize bounds the reason-engine work queue.
	QueueSize int
	// Workers is the reason-engine worker pool size.
	Workers int
}

// ReasonEngineConfig holds candidate fetch and scoring tunables.
type ReasonEngineConfig struct {
	Lookback         time.Duration // fetch window before detected_at
	Trailing         time.Duration // fetch window after detected_at
	ProximityHorizon time.Duration // time_proximity decays to 0 at this distance
	AdapterTimeout   time.Duration
	AdapterRetries   int
	FetchConcurrency int
	AllowedDomains   []string      // evidence source domain suffix allowlist; empty allows all
	PublishTolerance time.Duration // published_at may exceed detected_at by this much
}

// NotifierConfig holds notification cooldown tunables.
type NotifierConfig struct {
	CooldownByChannel map[string]time.Duration
	PromotionInterval time.Duration // sent -> cooldown promotion cadence for stale unreads
	PromotionAfter    time.Duration // age at which unread in_app rows get promoted
}

// BriefConfig holds brief generation tunables.
type BriefConfig struct {
	Lookback     time.Duration
	TopN         int
	ContentFloor int
	PostCloseTTL time.Duration
}

// CompareConfig holds evidence-compare tunables.
type CompareConfig struct {
	MinCompareItems int
	ImbalanceRatio  float64
	CacheTTL        time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		DataDir:  getEnv("DATA_DIR", ""),

		JWTSecret:  getEnv("JWT_SECRET", "dev-secret-do-not-use-in-production"),
		TokenTTL:   getEnvAsDuration("TOKEN_TTL", time.Hour),
		BcryptCost: getEnvAsInt("BCRYPT_COST", 12),

		HandlerTimeout: getEnvAsDuration("HANDLER_TIMEOUT", 10*time.Second),

		Detector: DetectorConfig{
			DefaultThresholdPct: map[int]float64{
				5:    getEnvAsFloat("DETECT_THRESHOLD_5M_PCT", 3.0),
				1440: getEnvAsFloat("DETECT_THRESHOLD_1D_PCT", 5.0),
			},
			Debounce: map[int]time.Duration{
				5:    getEnvAsDuration("DETECT_DEBOUNCE_5M", 5*time.Minute),
				1440: getEnvAsDuration("DETECT_DEBOUNCE_1D", 24*time.Hour),
			},
			DeltaPctForRealert: getEnvAsFloat("DELTA_PCT_FOR_REALERT", 2.0),
			QueueSize:          getEnvAsInt("REASON_QUEUE_SIZE", 256),
			Workers:            getEnvAsInt("REASON_WORKERS", 4),
		},

		ReasonEngine: ReasonEngineConfig{
			Lookback:         getEnvAsDuration("REASON_LOOKBACK", 24*time.Hour),
			Trailing:         getEnvAsDuration("REASON_TRAILING", 30*time.Minute),
			ProximityHorizon: getEnvAsDuration("REASON_PROXIMITY_HORIZON", 24*time.Hour),
			AdapterTimeout:   getEnvAsDuration("REASON_ADAPTER_TIMEOUT", 3*time.Second),
			AdapterRetries:   getEnvAsInt("REASON_ADAPTER_RETRIES", 2),
			FetchConcurrency: getEnvAsInt("REASON_FETCH_CONCURRENCY", 3),
			AllowedDomains:   getEnvAsList("REASON_ALLOWED_SOURCE_DOMAINS", nil),
			PublishTolerance: getEnvAsDuration("REASON_PUBLISH_TOLERANCE", 30*time.Minute),
		},

		Notifier: NotifierConfig{
			CooldownByChannel: map[string]time.Duration{
				"in_app": getEnvAsDuration("NOTIFY_COOLDOWN_IN_APP", 30*time.Minute),
				"email":  getEnvAsDuration("NOTIFY_COOLDOWN_EMAIL", 30*time.Minute),
			},
			PromotionInterval: getEnvAsDuration("NOTIFY_PROMOTION_INTERVAL", 5*time.Minute),
			PromotionAfter:    getEnvAsDuration("NOTIFY_PROMOTION_AFTER", 24*time.Hour),
		},

		Briefs: BriefConfig{
			Lookback:     getEnvAsDuration("BRIEF_LOOKBACK", 24*time.Hour),
			TopN:         getEnvAsInt("BRIEF_TOP_N", 5),
			ContentFloor: getEnvAsInt("BRIEF_CONTENT_FLOOR", 1),
			PostCloseTTL: getEnvAsDuration("BRIEF_POST_CLOSE_TTL", 24*time.Hour),
		},

		Compare: CompareConfig{
			MinCompareItems: getEnvAsInt("COMPARE_MIN_ITEMS", 2),
			ImbalanceRatio:  getEnvAsFloat("COMPARE_IMBALANCE_RATIO", 4.0),
			CacheTTL:        getEnvAsDuration("COMPARE_CACHE_TTL", 5*time.Minute),
		},
	}

	ports, err := parsePorts(getEnv("CORS_ALLOWED_PORTS", "3000,5173"))
	if err != nil {
		return nil, err
	}
	cfg.AllowedCORSPorts = ports

	if cfg.Detector.QueueSize < 1 {
		return nil, fmt.Errorf("REASON_QUEUE_SIZE must be >= 1")
	}
	if cfg.Detector.Workers < 1 {
		return nil, fmt.Errorf("REASON_WORKERS must be >= 1")
	}
	if cfg.Compare.MinCompareItems < 1 {
		return nil, fmt.Errorf("COMPARE_MIN_ITEMS must be >= 1")
	}

	return cfg, nil
}

func parsePorts(raw string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("CORS_ALLOWED_PORTS contains invalid port %q", part)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
