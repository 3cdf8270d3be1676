package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort  string
	Environment string
	JWTSecret   string
	JWTExpiry   int64

	// Chat engine endpoints
	APIBaseURL   string
	WebsocketURL string

	// Transport tunables
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration

	// Chat behavior
	TypingDebounce  time.Duration
	TypingExpiry    time.Duration
	MessagePageSize int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		JWTSecret:   getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiry:   getEnvAsInt64("JWT_EXPIRY", 24*60*60), // 24 hours

		APIBaseURL:   getEnv("CHAT_API_BASE_URL", "http://localhost:8080/v1"),
		WebsocketURL: getEnv("CHAT_WS_URL", "ws://localhost:8080/v1/ws"),

		ReconnectBaseDelay:   getEnvAsDuration("RECONNECT_BASE_DELAY", 3*time.Second),
		MaxReconnectAttempts: int(getEnvAsInt64("MAX_RECONNECT_ATTEMPTS", 5)),
		HandshakeTimeout:     getEnvAsDuration("HANDSHAKE_TIMEOUT", 10*time.Second),

		TypingDebounce:  getEnvAsDuration("TYPING_DEBOUNCE", 2*time.Second),
		TypingExpiry:    getEnvAsDuration("TYPING_EXPIRY", 5*time.Second),
		MessagePageSize: int(getEnvAsInt64("MESSAGE_PAGE_SIZE", 20)),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
