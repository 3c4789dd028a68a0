package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int

	Courier CourierConfig

	DispatchIntervalSeconds int
	SyncIntervalSeconds     int
	SyncBatchLimit          int
}

// CourierConfig holds the merchant credentials for the courier API. All
// four credential fields must be set for dispatch to work; a blank
// BaseURL leaves the server running with courier calls failing fast.
type CourierConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	dispatchInterval, err := strconv.Atoi(getEnv("DISPATCH_INTERVAL_SECONDS", "60"))
	if err != nil || dispatchInterval < 1 {
		dispatchInterval = 60
	}
	syncInterval, err := strconv.Atoi(getEnv("SYNC_INTERVAL_SECONDS", "300"))
	if err != nil || syncInterval < 1 {
		syncInterval = 300
	}
	batchLimit, err := strconv.Atoi(getEnv("SYNC_BATCH_LIMIT", "50"))
	if err != nil || batchLimit < 1 {
		batchLimit = 50
	}

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,

		Courier: CourierConfig{
			BaseURL:      strings.TrimRight(os.Getenv("COURIER_BASE_URL"), "/"),
			ClientID:     os.Getenv("COURIER_CLIENT_ID"),
			ClientSecret: os.Getenv("COURIER_CLIENT_SECRET"),
			Username:     os.Getenv("COURIER_USERNAME"),
			Password:     os.Getenv("COURIER_PASSWORD"),
		},

		DispatchIntervalSeconds: dispatchInterval,
		SyncIntervalSeconds:     syncInterval,
		SyncBatchLimit:          batchLimit,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSeconds) * time.Second
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// Validate flags configuration that would silently disable a subsystem.
func (c CourierConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("courier base url is not set")
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.Username == "" || c.Password == "" {
		return errors.New("courier credentials are incomplete")
	}
	return nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
