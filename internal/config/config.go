package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env  string
	Port string

	RedisURL  string
	RedisPass string
	RedisDB   int

	JWTSecret string

	// Randomness oracle. When EthRPCURL is empty the server runs with the
	// in-process dev oracle instead of a chain connection.
	EthRPCURL      string
	OracleAddress  string
	RequesterKey   string // hex private key used to sign request transactions
	ChainID        int64

	StartDelay      time.Duration
	CommitWindow    time.Duration
	ResolveWindow   time.Duration
	FulfillWait     time.Duration
	LeaseGrace      time.Duration
	SessionTTL      time.Duration
	SecretTTL       time.Duration
	MaxRollAttempts int
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:       getEnv("ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		RedisURL:  getEnv("REDIS_URL", "localhost:6379"),
		RedisPass: getEnv("REDIS_PASSWORD", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),

		EthRPCURL:     getEnv("ETH_RPC_URL", ""),
		OracleAddress: getEnv("ORACLE_ADDRESS", ""),
		RequesterKey:  getEnv("REQUESTER_KEY", ""),

		StartDelay:      getDuration("START_DELAY", 20*time.Second),
		CommitWindow:    getDuration("COMMIT_WINDOW", 30*time.Second),
		ResolveWindow:   getDuration("RESOLVE_WINDOW", 8*time.Second),
		FulfillWait:     getDuration("FULFILL_WAIT", 60*time.Second),
		LeaseGrace:      getDuration("LEASE_GRACE", 10*time.Second),
		SessionTTL:      getDuration("SESSION_TTL", 24*time.Hour),
		SecretTTL:       getDuration("SECRET_TTL", time.Hour),
		MaxRollAttempts: getInt("MAX_ROLL_ATTEMPTS", 3),
	}

	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %v", err)
	}
	cfg.RedisDB = db

	chainID, err := strconv.ParseInt(getEnv("CHAIN_ID", "31337"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAIN_ID: %v", err)
	}
	cfg.ChainID = chainID

	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret-do-not-use"
	}

	if cfg.EthRPCURL != "" && cfg.OracleAddress == "" {
		return nil, fmt.Errorf("ORACLE_ADDRESS is required when ETH_RPC_URL is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
