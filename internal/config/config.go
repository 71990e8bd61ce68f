package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/shopspring/decimal"
)

// ServerConfig holds the settings of the transfer server.
type ServerConfig struct {
	Port        string
	DatabaseURL string // empty selects the in-memory ledger
	LogLevel    string
	LogFormat   string

	JWTSecret string

	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string // optional Redis stream sink for the same events

	RateLimitRPS   float64
	RateLimitBurst int

	// SeedAccounts is a list of owner:email:balance:currency tuples loaded
	// into the in-memory ledger at startup.
	SeedAccounts []string
}

// ClientConfig holds the settings of the offline-capable client.
type ClientConfig struct {
	ServerURL       string
	AuthToken       string
	OwnerID         string
	LocalDBPath     string
	RequestTimeout  time.Duration
	ConnectivityTTL time.Duration
	HistoryPageSize int
	LogLevel        string
	LogFormat       string
}

const minJWTSecretLength = 32

// LoadDotEnv loads a .env file from the working directory or its parent when
// one exists. The process environment always wins.
func LoadDotEnv() {
	err := godotenv.Load()
	if err != nil {
		err = godotenv.Load("../.env")
	}
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: error loading .env file: %v. Relying on OS environment variables.", err)
	}
}

// LoadServer reads the server configuration from the environment.
func LoadServer() (*ServerConfig, error) {
	LoadDotEnv()

	cfg := &ServerConfig{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		KafkaBrokers:   getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "transaction_completed"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 30),
		SeedAccounts:   getEnvAsList("SEED_ACCOUNTS"),
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be set and at least %d bytes long", minJWTSecretLength)
	}
	return cfg, nil
}

// ParseSeedAccounts turns owner:email:balance:currency tuples into accounts.
func ParseSeedAccounts(items []string) ([]models.Account, error) {
	accounts := make([]models.Account, 0, len(items))
	for _, item := range items {
		parts := strings.Split(item, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("seed account %q: want owner:email:balance:currency", item)
		}
		balance, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("seed account %q: invalid balance: %w", item, err)
		}
		if balance.IsNegative() {
			return nil, fmt.Errorf("seed account %q: balance cannot be negative", item)
		}
		accounts = append(accounts, models.Account{
			OwnerID:  strings.TrimSpace(parts[0]),
			Email:    models.NormalizeRecipient(parts[1]),
			Balance:  balance,
			Currency: strings.ToUpper(strings.TrimSpace(parts[3])),
		})
	}
	return accounts, nil
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	LoadDotEnv()

	cfg := &ClientConfig{
		ServerURL:       strings.TrimRight(getEnv("SERVER_URL", "http://localhost:8080"), "/"),
		AuthToken:       getEnv("AUTH_TOKEN", ""),
		OwnerID:         getEnv("OWNER_ID", ""),
		LocalDBPath:     getEnv("LOCAL_DB_PATH", "./transfers.db"),
		RequestTimeout:  getEnvAsDuration("CLIENT_REQUEST_TIMEOUT", 10*time.Second),
		ConnectivityTTL: getEnvAsDuration("CONNECTIVITY_TTL", 5*time.Second),
		HistoryPageSize: getEnvAsInt("HISTORY_PAGE_SIZE", 50),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}

	var errs []error
	if cfg.OwnerID == "" {
		errs = append(errs, errors.New("OWNER_ID is required"))
	}
	if cfg.AuthToken == "" {
		errs = append(errs, errors.New("AUTH_TOKEN is required"))
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, errors.New("CLIENT_REQUEST_TIMEOUT must be positive"))
	}
	if cfg.HistoryPageSize <= 0 || cfg.HistoryPageSize > 100 {
		errs = append(errs, errors.New("HISTORY_PAGE_SIZE must be between 1 and 100"))
	}
	return cfg, errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid float value for %s ('%s'), using default: %g", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback)
	return fallback
}

// getEnvAsList splits a comma-separated variable, dropping empty items.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
