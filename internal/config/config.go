package config

import (
	"os"
	"strconv"
	"time"
)

// USDCMainnetMint is the USDC token mint on Solana mainnet, the default
// asset for payment challenges.
const USDCMainnetMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	JaegerEndpoint string

	SolanaRPCURL string
	IndexerURL   string
	IndexerKey   string

	PaymentWallet string
	TokenMint     string
	TokenDecimals int
	Network       string

	ChallengeTimeoutSeconds int
	ConfirmPollInterval     time.Duration
	ConfirmMaxAttempts      int
	AmountTolerance         int64
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8084"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getEnv("REDIS_URL", "localhost:6379"),
		KafkaBrokers:   getEnv("KAFKA_BROKERS", "localhost:9092"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "jaeger:4318"),

		SolanaRPCURL: getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		IndexerURL:   os.Getenv("INDEXER_URL"),
		IndexerKey:   os.Getenv("INDEXER_API_KEY"),

		PaymentWallet: os.Getenv("PAYMENT_WALLET"),
		TokenMint:     getEnv("TOKEN_MINT", USDCMainnetMint),
		TokenDecimals: getEnvInt("TOKEN_DECIMALS", 6),
		Network:       getEnv("PAYMENT_NETWORK", "solana"),

		ChallengeTimeoutSeconds: getEnvInt("CHALLENGE_TIMEOUT_SECONDS", 300),
		ConfirmPollInterval:     getEnvDuration("CONFIRM_POLL_INTERVAL", 2*time.Second),
		ConfirmMaxAttempts:      getEnvInt("CONFIRM_MAX_ATTEMPTS", 30),
		AmountTolerance:         int64(getEnvInt("AMOUNT_TOLERANCE", 10000)),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
