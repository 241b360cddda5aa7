package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds application configuration from environment.
// Both services read the same struct and ignore the fields they don't use.
type Config struct {
	ItemsHTTPPort string
	ListsHTTPPort string

	DatabaseDriver string // postgres or sqlite
	DatabaseURL    string
	DBPoolSize     int

	RedisURL      string
	RedisPoolSize int
	CacheTTL      int // seconds

	LeaseBackend  string // memory, redis or sql
	LeaseTTL      time.Duration
	LeaseSweep    time.Duration
	RoomRelay     string // local or redis
	RelayChannel  string
	SendBuffer    int
	MutationLimit time.Duration

	ItemsServiceURL string
	NotifyAttempts  int
	NotifyDelay     time.Duration
	NotifyTimeout   time.Duration

	KafkaBrokers    []string
	KafkaPurgeTopic string
	KafkaPartitions int

	JWTSecret     string
	InternalToken string
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

// Get returns the application config (loads once from env).
func Get() *Config {
	cfgOnce.Do(func() {
		cfg = Load()
	})
	return cfg
}

// Load reads a fresh Config from the environment.
func Load() *Config {
	return &Config{
		ItemsHTTPPort:   getEnv("ITEMS_HTTP_PORT", "3002"),
		ListsHTTPPort:   getEnv("LISTS_HTTP_PORT", "3001"),
		DatabaseDriver:  getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBPoolSize:      getIntEnv("DB_POOL_SIZE", 20),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPoolSize:   getIntEnv("REDIS_POOL_SIZE", 50),
		CacheTTL:        getIntEnv("CACHE_TTL_SEC", 300),
		LeaseBackend:    getEnv("LEASE_BACKEND", "redis"),
		LeaseTTL:        getDurationEnv("LEASE_TTL", 10*time.Second),
		LeaseSweep:      getDurationEnv("LEASE_SWEEP_INTERVAL", time.Second),
		RoomRelay:       getEnv("ROOM_RELAY", "local"),
		RelayChannel:    getEnv("ROOM_RELAY_CHANNEL", "listsync:rooms"),
		SendBuffer:      getIntEnv("WS_SEND_BUFFER", 64),
		MutationLimit:   getDurationEnv("MUTATION_TIMEOUT", 5*time.Second),
		ItemsServiceURL: getEnv("ITEMS_SERVICE_URL", "http://localhost:3002"),
		NotifyAttempts:  getIntEnv("NOTIFY_ATTEMPTS", 3),
		NotifyDelay:     getDurationEnv("NOTIFY_DELAY", time.Second),
		NotifyTimeout:   getDurationEnv("NOTIFY_TIMEOUT", 3*time.Second),
		KafkaBrokers:    getSliceEnv("KAFKA_BROKERS"),
		KafkaPurgeTopic: getEnv("KAFKA_PURGE_TOPIC", "list-purge"),
		KafkaPartitions: getIntEnv("KAFKA_PARTITIONS", 4),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		InternalToken:   os.Getenv("INTERNAL_TOKEN"),
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// getDurationEnv accepts Go durations ("1500ms") or bare seconds ("10").
func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

// getSliceEnv splits a comma-separated variable; empty means the feature is off.
func getSliceEnv(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
