package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Storage backend: "redis" or "memory"
	StoreBackend string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Reservation configuration
	ReservationTTL time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int64

	// Saga configuration
	PaymentTimeout    time.Duration
	ReconcileInterval time.Duration
	SagaRetention     time.Duration

	// Payment gateway simulation
	ChargeLimit string

	// Rate limiting
	PurchaseRateLimit  int64
	PurchaseRateWindow time.Duration

	// PubNub configuration (outcome notifications, optional)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Storage
		StoreBackend: getEnv("STORE_BACKEND", "redis"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Reservations
		ReservationTTL: getEnvAsDuration("RESERVATION_TTL", "5m"),
		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", "15s"),
		SweepBatchSize: int64(getEnvAsInt("SWEEP_BATCH_SIZE", 100)),

		// Saga
		PaymentTimeout:    getEnvAsDuration("PAYMENT_TIMEOUT", "10s"),
		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", "30s"),
		SagaRetention:     getEnvAsDuration("SAGA_RETENTION", "720h"),

		// Payments
		ChargeLimit: getEnv("CHARGE_LIMIT", "1000"),

		// Rate limiting
		PurchaseRateLimit:  int64(getEnvAsInt("PURCHASE_RATE_LIMIT", 30)),
		PurchaseRateWindow: getEnvAsDuration("PURCHASE_RATE_WINDOW", "1m"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
