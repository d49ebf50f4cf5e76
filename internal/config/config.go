package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Provider ProviderConfig
	Relay    RelayConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	Environment        string
	LogFilePath        string
	RelayLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
}

type DatabaseConfig struct {
	Connection string
}

// ProviderConfig configures the outbound call to the answer service.
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	TopK           int
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

// RelayConfig tunes the streaming behaviour of the relay engine.
type RelayConfig struct {
	ChunkDelay   time.Duration // pacing between chunks, 0 disables
	ContextLimit int           // how much history goes upstream
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			RelayLogFilePath:   getEnv("RELAY_LOG_FILE_PATH", "logs/relay.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:4200"),
			NatsURL:            getEnv("NATS_URL", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("PROVIDER_BASE_URL", "http://localhost:8000"),
			APIKey:         getEnv("PROVIDER_API_KEY", ""),
			TopK:           getEnvAsInt("PROVIDER_TOP_K", 3),
			ConnectTimeout: getEnvAsDuration("PROVIDER_CONNECT_TIMEOUT", 10*time.Second),
			TotalTimeout:   getEnvAsDuration("PROVIDER_TOTAL_TIMEOUT", 30*time.Second),
		},
		Relay: RelayConfig{
			ChunkDelay:   getEnvAsDuration("RELAY_CHUNK_DELAY", 10*time.Millisecond),
			ContextLimit: getEnvAsInt("RELAY_CONTEXT_LIMIT", 10),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
