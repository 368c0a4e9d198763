package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Chain    ChainConfig
	Rates    RatesConfig
	Saga     SagaConfig
	Seed     SeedConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// ChainConfig points the chain client at the node and the signer gateway that
// holds the operator key.
type ChainConfig struct {
	RPCURL          string
	SignerURL       string
	SignerAPIKey    string
	TokenAddress    string
	OperatorAddress string
	TokenDecimals   int32
	GasLimit        uint64 // fixed per token transfer
}

// RatesConfig selects the fee conversion source. Mode "fixed" uses
// FixedLedgerPerNative; mode "http" polls an external rates API.
type RatesConfig struct {
	Mode                 string
	FixedLedgerPerNative decimal.Decimal // ledger units per 1 native coin
	BaseURL              string
	APIKey               string
}

type SagaConfig struct {
	FeeMarginPercent int64           // safety margin on the fee estimate
	NetAmountFloor   decimal.Decimal // refuse transfers netting below this
	MaxRetries       int
	ConfirmTimeout   time.Duration
	ConfirmInterval  time.Duration
}

type SeedConfig struct {
	OperatorEmail    string
	OperatorPassword string
	OperatorWallet   string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         env("PORT", "8088"),
			Env:          env("ENV", "development"),
			ReadTimeout: 10 * time.Second,
			// Must exceed Saga.ConfirmTimeout: process_migration blocks
			// through the confirmation wait.
			WriteTimeout: 6 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:             env("DB_DSN", "chainpay:chainpay@tcp(localhost:3306)/chainpay?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    50,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: env("JWT_SECRET", "change-me-in-production"),
			AccessExpiry: 12 * time.Hour,
			Issuer:       "chainpay",
		},
		Chain: ChainConfig{
			RPCURL:          env("CHAIN_RPC_URL", "http://localhost:8545"),
			SignerURL:       env("CHAIN_SIGNER_URL", "http://localhost:8550"),
			SignerAPIKey:    env("CHAIN_SIGNER_API_KEY", ""),
			TokenAddress:    env("CHAIN_TOKEN_ADDRESS", ""),
			OperatorAddress: env("CHAIN_OPERATOR_ADDRESS", ""),
			TokenDecimals:   int32(envInt("CHAIN_TOKEN_DECIMALS", 18)),
			GasLimit:        uint64(envInt("CHAIN_TRANSFER_GAS_LIMIT", 65000)),
		},
		Rates: RatesConfig{
			Mode:                 env("RATES_MODE", "fixed"),
			FixedLedgerPerNative: envDecimal("RATES_FIXED_LEDGER_PER_NATIVE", "2500"),
			BaseURL:              env("RATES_BASE_URL", ""),
			APIKey:               env("RATES_API_KEY", ""),
		},
		Saga: SagaConfig{
			FeeMarginPercent: int64(envInt("SAGA_FEE_MARGIN_PERCENT", 20)),
			NetAmountFloor:   envDecimal("SAGA_NET_AMOUNT_FLOOR", "1"),
			MaxRetries:       envInt("SAGA_MAX_RETRIES", 3),
			ConfirmTimeout:   envDuration("SAGA_CONFIRM_TIMEOUT", 5*time.Minute),
			ConfirmInterval:  envDuration("SAGA_CONFIRM_INTERVAL", 5*time.Second),
		},
		Seed: SeedConfig{
			OperatorEmail:    env("SEED_OPERATOR_EMAIL", "operator@chainpay.local"),
			OperatorPassword: env("SEED_OPERATOR_PASSWORD", "change-me"),
			OperatorWallet:   env("SEED_OPERATOR_WALLET", ""),
		},
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
