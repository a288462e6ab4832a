// Package config loads process configuration from environment
// variables plus a YAML chain-list file, following the same
// getEnvOrFatal/getEnvUint64 idiom the teacher's crawler config uses,
// extended with a structured per-chain section (spec.md 6).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration: ambient settings
// read from the environment, plus the chain and bucket lists read
// from the YAML file named by DLN_TAKER_CONFIG.
type Config struct {
	DbURL       string
	KafkaBroker string
	KafkaTopic  string
	APIPort     int

	MinProfitabilityBps    uint32
	BatchUnlockSize        int
	MempoolInitialInterval int // seconds
	MempoolMaxDelayStep    int // seconds
	UnlockCostUSDEstimate  float64

	Chains  []ChainConfig  `yaml:"chains"`
	Buckets []BucketConfig `yaml:"buckets"`
}

// BucketConfig is one equivalence class as read from YAML: a name and
// a map of chain id to a single token member (address and decimals).
// A list of tokens for one chain is not accepted.
type BucketConfig struct {
	Name    string                 `yaml:"name"`
	Members map[uint64]TokenMember `yaml:"members"`
}

// TokenMember holds a token's address and decimals for one chain
// within a bucket.
type TokenMember struct {
	Token    string `yaml:"token"`
	Decimals int    `yaml:"decimals"`
}

// ConstraintRangeConfig mirrors one src_constraints/dst_constraints
// entry (spec.md 6).
type ConstraintRangeConfig struct {
	ThresholdAmountUSD            float64 `yaml:"threshold_amount_in_usd"`
	MinBlockConfirmations         uint64  `yaml:"min_block_confirmations"`
	FulfillmentDelaySec           uint64  `yaml:"fulfillment_delay"`
	PreFulfillSwapChangeRecipient string  `yaml:"pre_fulfill_swap_change_recipient"`
}

// ChainConfig is one chains[] entry.
type ChainConfig struct {
	ChainID                  uint64                  `yaml:"chain"`
	Engine                   string                  `yaml:"engine"` // "evm" or "solana"
	RPC                      string                  `yaml:"chain_rpc"`
	TakerPrivateKeyEnv       string                  `yaml:"taker_private_key_env"`
	UnlockAuthorityKeyEnv    string                  `yaml:"unlock_authority_private_key_env"`
	Beneficiary              string                  `yaml:"beneficiary"`
	Disabled                 bool                    `yaml:"disabled"`
	HardCapBlockConfirmations uint64                 `yaml:"hard_cap_block_confirmations"`
	SrcConstraints           []ConstraintRangeConfig `yaml:"constraints"`
	DstConstraints           []ConstraintRangeConfig `yaml:"dst_constraints"`
	TVLCapUSD                float64                 `yaml:"tvl_cap_usd"`
	NonFinalizedCapUSD       float64                 `yaml:"non_finalized_cap_usd"`
	OrderContract            string                  `yaml:"order_contract"`
}

// Load reads ambient settings from the environment (following
// getEnvOrFatal/getEnvUint64) and the chain/bucket tree from the YAML
// file named by DLN_TAKER_CONFIG.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: could not load .env file: %v", err)
	}

	cfg := &Config{
		DbURL:                  getEnvOrFatal("DB_URL"),
		KafkaBroker:            getEnvOrFatal("KAFKA_BROKER"),
		KafkaTopic:             getEnvOrFatal("KAFKA_TOPIC"),
		APIPort:                getEnvInt("API_PORT", 8090),
		MinProfitabilityBps:    uint32(getEnvUint64("MIN_PROFITABILITY_BPS", 30)),
		BatchUnlockSize:        getEnvInt("BATCH_UNLOCK_SIZE", 3),
		MempoolInitialInterval: getEnvInt("MEMPOOL_INITIAL_INTERVAL_SEC", 15),
		MempoolMaxDelayStep:    getEnvInt("MEMPOOL_MAX_DELAY_STEP_SEC", 10),
		UnlockCostUSDEstimate:  getEnvFloat("UNLOCK_COST_USD_ESTIMATE", 2.0),
	}

	chainsPath := getEnvOrFatal("DLN_TAKER_CONFIG")
	raw, err := os.ReadFile(chainsPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", chainsPath, err)
	}

	var tree struct {
		Chains  []ChainConfig  `yaml:"chains"`
		Buckets []BucketConfig `yaml:"buckets"`
	}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse %s: %w", chainsPath, err)
	}
	cfg.Chains = tree.Chains
	cfg.Buckets = tree.Buckets

	if cfg.BatchUnlockSize < 1 || cfg.BatchUnlockSize > 10 {
		return nil, fmt.Errorf("batch_unlock_size %d out of [1,10]", cfg.BatchUnlockSize)
	}

	return cfg, nil
}

// PrivateKey resolves a per-chain signer key from its named
// environment variable, selecting hex vs base58 by the 0x prefix
// (spec.md 6).
func PrivateKey(envVar string) (raw string, isHex bool, err error) {
	v := getEnvOrFatalNoLog(envVar)
	if v == "" {
		return "", false, fmt.Errorf("%s not set", envVar)
	}
	return v, strings.HasPrefix(v, "0x"), nil
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	log.Fatalf("environment variable %s not set", key)
	return ""
}

func getEnvOrFatalNoLog(key string) string {
	return os.Getenv(key)
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
