/**
 * @description
 * This package handles the configuration management for the ledger-service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// FeeOverride is a per-destination delivery fee policy parsed from
// TRANSPORT_FEE_OVERRIDES. Amounts are in the asset's base units.
type FeeOverride struct {
	BaseFee int64
	PerByte int64
}

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	TransportExchange            string `mapstructure:"TRANSPORT_EXCHANGE"`
	TransportQueue               string `mapstructure:"TRANSPORT_QUEUE"`
	ChainID                      string `mapstructure:"CHAIN_ID"`
	KnownChains                  string `mapstructure:"KNOWN_CHAINS"`
	SupportedAssets              string `mapstructure:"SUPPORTED_ASSETS"`
	YieldSourceAPIBaseURL        string `mapstructure:"YIELD_SOURCE_API_BASE_URL"`
	YieldSourceAPIKey            string `mapstructure:"YIELD_SOURCE_API_KEY"`
	AuthJWKSURL                  string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	TransportBaseFee             int64  `mapstructure:"TRANSPORT_BASE_FEE"`
	TransportFeePerByte          int64  `mapstructure:"TRANSPORT_FEE_PER_BYTE"`
	TransportFeeOverrides        string `mapstructure:"TRANSPORT_FEE_OVERRIDES"`
	RelocationMarginBps          int64  `mapstructure:"RELOCATION_MARGIN_BPS"`
	MinRelocationAmount          int64  `mapstructure:"MIN_RELOCATION_AMOUNT"`
	AutoRelocationMaxFeeBps      int64  `mapstructure:"AUTO_RELOCATION_MAX_FEE_BPS"`
	RelocationRateLimitPerMinute int    `mapstructure:"RELOCATION_RATE_LIMIT_PER_MINUTE"`
	IntentRecoveryTimeoutMin     int    `mapstructure:"INTENT_RECOVERY_TIMEOUT_MINUTES"`
	RemoteRateTTLMin             int    `mapstructure:"REMOTE_RATE_TTL_MINUTES"`
	RebalanceSchedule            string `mapstructure:"REBALANCE_SCHEDULE"`
	StaleIntentSweepSchedule     string `mapstructure:"STALE_INTENT_SWEEP_SCHEDULE"`
	RemoteRatePruneSchedule      string `mapstructure:"REMOTE_RATE_PRUNE_SCHEDULE"`
	VaultStrategyRateBps         int64  `mapstructure:"VAULT_STRATEGY_RATE_BPS"`
	VaultLiquidityLimit          int64  `mapstructure:"VAULT_LIQUIDITY_LIMIT"`

	// Derived fields populated by LoadConfig after unmarshalling.
	KnownChainList     []string               `mapstructure:"-"`
	SupportedAssetList []string               `mapstructure:"-"`
	FeeOverrides       map[string]FeeOverride `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("TRANSPORT_EXCHANGE", "yieldrelay.transport")
	viper.SetDefault("CHAIN_ID", "local")
	viper.SetDefault("SUPPORTED_ASSETS", "USDC")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "yieldrelay:rate_limit")
	viper.SetDefault("TRANSPORT_BASE_FEE", 25)
	viper.SetDefault("TRANSPORT_FEE_PER_BYTE", 2)
	viper.SetDefault("RELOCATION_MARGIN_BPS", 50)
	viper.SetDefault("MIN_RELOCATION_AMOUNT", 1000)
	viper.SetDefault("AUTO_RELOCATION_MAX_FEE_BPS", 100)
	viper.SetDefault("RELOCATION_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("INTENT_RECOVERY_TIMEOUT_MINUTES", 60)
	viper.SetDefault("REMOTE_RATE_TTL_MINUTES", 30)
	viper.SetDefault("REBALANCE_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("STALE_INTENT_SWEEP_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("REMOTE_RATE_PRUNE_SCHEDULE", "0 * * * *")
	viper.SetDefault("VAULT_STRATEGY_RATE_BPS", 380)
	viper.SetDefault("VAULT_LIQUIDITY_LIMIT", 0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("TRANSPORT_EXCHANGE")
	_ = viper.BindEnv("TRANSPORT_QUEUE")
	_ = viper.BindEnv("CHAIN_ID")
	_ = viper.BindEnv("KNOWN_CHAINS")
	_ = viper.BindEnv("SUPPORTED_ASSETS")
	_ = viper.BindEnv("YIELD_SOURCE_API_BASE_URL")
	_ = viper.BindEnv("YIELD_SOURCE_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("TRANSPORT_BASE_FEE")
	_ = viper.BindEnv("TRANSPORT_FEE_PER_BYTE")
	_ = viper.BindEnv("TRANSPORT_FEE_OVERRIDES")
	_ = viper.BindEnv("RELOCATION_MARGIN_BPS")
	_ = viper.BindEnv("MIN_RELOCATION_AMOUNT")
	_ = viper.BindEnv("AUTO_RELOCATION_MAX_FEE_BPS")
	_ = viper.BindEnv("RELOCATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("INTENT_RECOVERY_TIMEOUT_MINUTES")
	_ = viper.BindEnv("REMOTE_RATE_TTL_MINUTES")
	_ = viper.BindEnv("REBALANCE_SCHEDULE")
	_ = viper.BindEnv("STALE_INTENT_SWEEP_SCHEDULE")
	_ = viper.BindEnv("REMOTE_RATE_PRUNE_SCHEDULE")
	_ = viper.BindEnv("VAULT_STRATEGY_RATE_BPS")
	_ = viper.BindEnv("VAULT_LIQUIDITY_LIMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "yieldrelay:rate_limit"
	}

	config.ChainID = strings.TrimSpace(config.ChainID)
	if config.ChainID == "" {
		config.ChainID = "local"
	}
	if strings.TrimSpace(config.TransportQueue) == "" {
		config.TransportQueue = "ledger_service." + config.ChainID + ".transport"
	}

	config.KnownChainList = splitCSV(config.KnownChains)
	if !containsString(config.KnownChainList, config.ChainID) {
		config.KnownChainList = append(config.KnownChainList, config.ChainID)
	}

	config.SupportedAssetList = splitCSV(config.SupportedAssets)
	if len(config.SupportedAssetList) == 0 {
		config.SupportedAssetList = []string{"USDC"}
	}

	config.FeeOverrides = parseFeeOverrides(config.TransportFeeOverrides)

	if config.TransportBaseFee < 0 {
		log.Printf("level=warn component=config msg=\"negative transport base fee configured; coercing to zero\" base_fee=%d", config.TransportBaseFee)
		config.TransportBaseFee = 0
	}
	if config.TransportFeePerByte < 0 {
		log.Printf("level=warn component=config msg=\"negative transport per-byte fee configured; coercing to zero\" per_byte=%d", config.TransportFeePerByte)
		config.TransportFeePerByte = 0
	}
	if config.RelocationMarginBps < 0 {
		log.Printf("level=warn component=config msg=\"negative relocation margin configured; coercing to zero\" margin_bps=%d", config.RelocationMarginBps)
		config.RelocationMarginBps = 0
	}
	if config.AutoRelocationMaxFeeBps < 0 {
		log.Printf("level=warn component=config msg=\"negative auto-relocation fee allowance configured; coercing to zero\" max_fee_bps=%d", config.AutoRelocationMaxFeeBps)
		config.AutoRelocationMaxFeeBps = 0
	}
	if config.VaultStrategyRateBps < 0 {
		log.Printf("level=warn component=config msg=\"negative vault rate configured; coercing to zero\" rate_bps=%d", config.VaultStrategyRateBps)
		config.VaultStrategyRateBps = 0
	}
	if config.VaultLiquidityLimit < 0 {
		log.Printf("level=warn component=config msg=\"negative vault liquidity limit configured; coercing to zero\" limit=%d", config.VaultLiquidityLimit)
		config.VaultLiquidityLimit = 0
	}

	if config.MinRelocationAmount <= 0 {
		config.MinRelocationAmount = 1000
	}
	if config.RelocationRateLimitPerMinute <= 0 {
		config.RelocationRateLimitPerMinute = 10
	}
	if config.IntentRecoveryTimeoutMin <= 0 {
		config.IntentRecoveryTimeoutMin = 60
	}
	if config.RemoteRateTTLMin <= 0 {
		config.RemoteRateTTLMin = 30
	}
	if strings.TrimSpace(config.RebalanceSchedule) == "" {
		config.RebalanceSchedule = "*/5 * * * *"
	}
	if strings.TrimSpace(config.StaleIntentSweepSchedule) == "" {
		config.StaleIntentSweepSchedule = "*/10 * * * *"
	}
	if strings.TrimSpace(config.RemoteRatePruneSchedule) == "" {
		config.RemoteRatePruneSchedule = "0 * * * *"
	}

	return
}

// splitCSV splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

// parseFeeOverrides parses the TRANSPORT_FEE_OVERRIDES value. The expected
// format is a comma-separated list of "chain=baseFee:perByte" entries, e.g.
// "chain-b=40:1,chain-c=60:2". Malformed entries are skipped with a warning.
func parseFeeOverrides(raw string) map[string]FeeOverride {
	overrides := make(map[string]FeeOverride)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		chain, policy, ok := strings.Cut(entry, "=")
		if !ok {
			log.Printf("level=warn component=config msg=\"skipping malformed fee override\" entry=%q", entry)
			continue
		}
		chain = strings.TrimSpace(chain)
		baseStr, perByteStr, ok := strings.Cut(policy, ":")
		if !ok || chain == "" {
			log.Printf("level=warn component=config msg=\"skipping malformed fee override\" entry=%q", entry)
			continue
		}
		baseFee, baseErr := strconv.ParseInt(strings.TrimSpace(baseStr), 10, 64)
		perByte, perErr := strconv.ParseInt(strings.TrimSpace(perByteStr), 10, 64)
		if baseErr != nil || perErr != nil || baseFee < 0 || perByte < 0 {
			log.Printf("level=warn component=config msg=\"skipping malformed fee override\" entry=%q", entry)
			continue
		}
		overrides[chain] = FeeOverride{BaseFee: baseFee, PerByte: perByte}
	}
	return overrides
}
