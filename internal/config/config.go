package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string

	// Database configuration (used when StorageMode is "db")
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration (cross-instance fan-out)
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// Collaboration platform config (authorization/persistence/analytics)
	PlatformAddress string
	PlatformSecret  string

	// internal secret used for communication between servers
	InternalSecret string

	FrontendAddress string

	// Where room content is persisted: "remote" (platform) or "db"
	StorageMode string

	// When set, rooms also run the polled save-request/ack protocol in
	// addition to the server-side debounced save.
	SaveRequestsEnabled bool

	// Collaboration tunables
	ContributionWindow       time.Duration
	SaveInterval             time.Duration
	SaveTimeout              time.Duration
	SaveFailedAttempts       int
	CollaboratorInactivity   time.Duration
	DebouncedSaveWait        time.Duration
	DebouncedSaveMaxWait     time.Duration
	InactivityResetDebounce  time.Duration
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	AppConfig = Config{
		ServerPort:      getEnv("PORT", "4002"),
		Environment:     getEnv("ENV", "development"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "whiteboard"),
		RedisAddress:    getEnv("REDIS_ADDRESS", "localhost:6379"),
		PlatformAddress: getEnv("PLATFORM_ADDRESS", "http://localhost:8787"),
		PlatformSecret:  getEnv("PLATFORM_SECRET", "collab-platform-secret"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		InternalSecret:  getEnv("INTERNAL_SECRET", "collab-internal-secret"),
		FrontendAddress: getEnv("FRONTEND_ADDRESS", "https://production-frontend.com"),
		StorageMode:     getEnv("STORAGE_MODE", "remote"),

		SaveRequestsEnabled: getEnvBool("ENABLE_SAVE_REQUESTS", false),

		ContributionWindow:      getEnvSeconds("CONTRIBUTION_WINDOW", 600),
		SaveInterval:            getEnvSeconds("SAVE_INTERVAL", 15),
		SaveTimeout:             getEnvSeconds("SAVE_TIMEOUT", 10),
		SaveFailedAttempts:      getEnvInt("SAVE_CONSECUTIVE_FAILED_ATTEMPTS", 3),
		CollaboratorInactivity:  getEnvSeconds("COLLABORATOR_INACTIVITY", 60*30),
		DebouncedSaveWait:       getEnvMillis("DEBOUNCED_SAVE_WAIT_MS", 3000),
		DebouncedSaveMaxWait:    getEnvMillis("DEBOUNCED_SAVE_MAX_WAIT_MS", 6000),
		InactivityResetDebounce: getEnvMillis("INACTIVITY_RESET_DEBOUNCE_MS", 1000),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid value for %s: %v", key, err)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid value for %s: %v", key, err)
		return defaultValue
	}
	return b
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
