// Package config loads the collabd process configuration from environment
// variables, following the teacher's getEnv/getEnvInt convention rather
// than pulling in a configuration-file library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved process configuration.
type Config struct {
	// Hub / transport tuning.
	PingInterval              time.Duration
	OutboundQueueCap          int
	IdleGrace                 time.Duration
	MaxHubs                   int
	MaxClientsPerHub          int

	// Bus tuning.
	BusPrefix                 string
	BusChunkThreshold         int
	BusChunkReassemblyTimeout time.Duration
	InstanceID                string

	// Auth.
	DefaultOpenPolicy bool
	JWTSecret         string
	JWTIssuer         string

	// NATS.
	NATSURL      string
	NATSUser     string
	NATSPassword string

	// Redis.
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Listeners.
	HTTPAdminPort string
	WSPort        string

	// Logging.
	LogLevel  string
	LogPretty bool

	// Rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// Shutdown.
	DrainDeadline time.Duration
}

// Load reads the process configuration from the environment, applying the
// same defaults SPEC_FULL.md's configuration table names.
func Load() Config {
	return Config{
		PingInterval:     getEnvDuration("PING_INTERVAL", 30*time.Second),
		OutboundQueueCap: getEnvInt("OUTBOUND_QUEUE_CAP", 256),
		IdleGrace:        getEnvDuration("IDLE_GRACE", 30*time.Minute),
		MaxHubs:          getEnvInt("MAX_HUBS", 0),
		MaxClientsPerHub: getEnvInt("MAX_CLIENTS_PER_HUB", 50),

		BusPrefix:                 getEnv("BUS_PREFIX", "collab:"),
		BusChunkThreshold:         getEnvInt("BUS_CHUNK_THRESHOLD", 64*1024),
		BusChunkReassemblyTimeout: getEnvDuration("BUS_CHUNK_REASSEMBLY_TIMEOUT", 10*time.Second),
		InstanceID:                getEnv("INSTANCE_ID", ""),

		DefaultOpenPolicy: getEnvBool("DEFAULT_OPEN_POLICY", true),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", ""),

		NATSURL:      getEnv("NATS_URL", ""),
		NATSUser:     getEnv("NATS_USER", ""),
		NATSPassword: getEnv("NATS_PASSWORD", ""),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		HTTPAdminPort: getEnv("HTTP_ADMIN_PORT", "8090"),
		WSPort:        getEnv("WS_PORT", "8091"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 30),

		DrainDeadline: getEnvDuration("DRAIN_DEADLINE", 5*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
