package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	StorageBucket   string
	Environment     string

	// Messaging engine tuning. Defaults match the documented signal
	// lifecycle: typing clears 3s after the last keystroke, writes while
	// typing are coalesced to one per second, and listeners ignore
	// indicators that have not been refreshed within 5s.
	TypingIdleTimeout  time.Duration
	TypingCoalesce     time.Duration
	TypingStaleAfter   time.Duration
	PresenceStaleAfter time.Duration
	MessagePageSize    int
	MaxAttachmentSize  int64
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		TypingIdleTimeout:  getEnvAsDuration("TYPING_IDLE_TIMEOUT_MS", 3000),
		TypingCoalesce:     getEnvAsDuration("TYPING_COALESCE_MS", 1000),
		TypingStaleAfter:   getEnvAsDuration("TYPING_STALE_AFTER_MS", 5000),
		PresenceStaleAfter: getEnvAsDuration("PRESENCE_STALE_AFTER_MS", 300000),
		MessagePageSize:    getEnvAsInt("MESSAGE_PAGE_SIZE", 50),
		MaxAttachmentSize:  getEnvAsInt64("MAX_ATTACHMENT_SIZE", 10*1024*1024),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
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

func getEnvAsDuration(key string, defaultMillis int64) time.Duration {
	return time.Duration(getEnvAsInt64(key, defaultMillis)) * time.Millisecond
}
