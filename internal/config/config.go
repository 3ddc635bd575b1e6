package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type CartConfig struct {
	Synchronize        bool
	SynchronizeTotals  bool
	CreateEndpoint     string
	UpdateEndpoint     string
	PullEndpoint       string
	TotalsEndpoint     string
	ConnectMinInterval time.Duration
}

type QueuesConfig struct {
	MaxNetworkTaskAttempts int
	MaxCartBypassAttempts  int
	RetryBase              time.Duration
	RetryMax               time.Duration
	Timeout                time.Duration
	RatePerSec             float64
	OfflineAfterFailures   int
	OfflineRecovery        time.Duration
}

type OrdersConfig struct {
	DirectBackendSync bool
}

type SEOConfig struct {
	UseURLDispatcher bool
}

type StoreViewsConfig struct {
	Multistore       bool
	AppendStoreCode  bool
	MapStoreURLsFor  []string
	DefaultStoreCode string
}

type Config struct {
	ListenAddr  string
	StoreMode   string
	DatabaseURL string
	// CartTokenKey is a base64 AES-256 key for server cart tokens at rest.
	CartTokenKey string
	JWTSecret    string
	SessionTTL   time.Duration
	LogJSON      bool

	Cart       CartConfig
	Queues     QueuesConfig
	Orders     OrdersConfig
	SEO        SEOConfig
	StoreViews StoreViewsConfig

	EventsWebhookURL     string
	EventsWebhookTimeout time.Duration
	EventsWebhookRetries int
}

func Load() Config {
	return Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":18080"),
		StoreMode:    getEnv("STORE_MODE", "memory"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		CartTokenKey: getEnv("CART_TOKEN_KEY", ""),
		JWTSecret:    getEnv("JWT_SECRET", "change-this-secret"),
		SessionTTL:   getDuration("SESSION_TTL", 30*24*time.Hour),
		LogJSON:      getBool("LOG_JSON", false),
		Cart: CartConfig{
			Synchronize:        getBool("CART_SYNCHRONIZE", true),
			SynchronizeTotals:  getBool("CART_SYNCHRONIZE_TOTALS", true),
			CreateEndpoint:     getEnv("CART_CREATE_ENDPOINT", "http://localhost:8080/api/cart/create?token={{token}}"),
			UpdateEndpoint:     getEnv("CART_UPDATE_ENDPOINT", "http://localhost:8080/api/cart/update?token={{token}}&cartId={{cartId}}"),
			PullEndpoint:       getEnv("CART_PULL_ENDPOINT", "http://localhost:8080/api/cart/pull?token={{token}}&cartId={{cartId}}"),
			TotalsEndpoint:     getEnv("CART_TOTALS_ENDPOINT", "http://localhost:8080/api/cart/totals?token={{token}}&cartId={{cartId}}"),
			ConnectMinInterval: getDuration("CART_CONNECT_MIN_INTERVAL", time.Second),
		},
		Queues: QueuesConfig{
			MaxNetworkTaskAttempts: getInt("QUEUES_MAX_NETWORK_TASK_ATTEMPTS", 1),
			MaxCartBypassAttempts:  getInt("QUEUES_MAX_CART_BYPASS_ATTEMPTS", 1),
			RetryBase:              getDuration("QUEUES_RETRY_BASE", 500*time.Millisecond),
			RetryMax:               getDuration("QUEUES_RETRY_MAX", 5*time.Second),
			Timeout:                getDuration("QUEUES_TIMEOUT", 10*time.Second),
			RatePerSec:             getFloat("QUEUES_RATE_PER_SEC", 20),
			OfflineAfterFailures:   getInt("QUEUES_OFFLINE_AFTER_FAILURES", 3),
			OfflineRecovery:        getDuration("QUEUES_OFFLINE_RECOVERY", 30*time.Second),
		},
		Orders: OrdersConfig{
			DirectBackendSync: getBool("ORDERS_DIRECT_BACKEND_SYNC", true),
		},
		SEO: SEOConfig{
			UseURLDispatcher: getBool("SEO_USE_URL_DISPATCHER", true),
		},
		StoreViews: StoreViewsConfig{
			Multistore:       getBool("STORE_VIEWS_MULTISTORE", false),
			AppendStoreCode:  getBool("STORE_VIEWS_APPEND_STORE_CODE", true),
			MapStoreURLsFor:  getList("STORE_VIEWS_MAP_STORE_URLS_FOR"),
			DefaultStoreCode: getEnv("DEFAULT_STORE_CODE", ""),
		},
		EventsWebhookURL:     getEnv("EVENTS_WEBHOOK_URL", ""),
		EventsWebhookTimeout: getDuration("EVENTS_WEBHOOK_TIMEOUT", 5*time.Second),
		EventsWebhookRetries: getInt("EVENTS_WEBHOOK_RETRIES", 3),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getList reads a comma separated list, skipping blanks.
func getList(key string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
