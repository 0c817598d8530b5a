package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// Settings holds all configuration for the location consensus validator
type Settings struct {
	// Core Identity
	ValidatorID string

	// Validation & Clustering
	GridCellSize       int32         // Cluster cell size in microdegrees
	MaxWinnersPerBlock int           // Cap on winners per interval
	IntervalDuration   time.Duration // Fixed interval length

	// Collector Identity & Verification
	CollectorAddresses        []string         // String addresses of registered collectors
	CollectorAccounts         []common.Address // Parsed common.Address types
	SkipSignatureVerification bool             // Skip verification for testing

	// Consensus Configuration
	ConsensusQuorum int // Distinct collectors required before finalization

	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisDB       int
	RedisPassword string
	Network       string // Namespace for Redis keys and event channels

	// Reward Distribution
	RewardDistributorURL   string
	RewardDispatchInterval time.Duration
	RewardDispatchTimeout  time.Duration
	RewardMaxRetryElapsed  time.Duration

	// Component Toggles
	EnableAPI             bool
	EnableRewardDispatch  bool
	EnableLedgerMirroring bool
	EnableEventPublishing bool

	// API Configuration
	APIHost      string
	APIPort      int
	APIAuthToken string

	// Monitoring & Debugging
	MetricsEnabled bool
	MetricsPort    int
	LogLevel       string
	DebugMode      bool
}

var (
	// SettingsObj is the global settings instance
	SettingsObj *Settings
)

// LoadConfig loads configuration from environment variables
func LoadConfig() error {
	SettingsObj = &Settings{
		// Core Identity
		ValidatorID: getEnv("VALIDATOR_ID", "consensus-validator-1"),

		// Validation & Clustering
		GridCellSize:       int32(getEnvAsInt("GRID_CELL_SIZE_MICRODEG", 10000)),
		MaxWinnersPerBlock: getEnvAsInt("MAX_WINNERS_PER_BLOCK", 100),
		IntervalDuration:   time.Duration(getEnvAsInt("INTERVAL_DURATION_SECONDS", 600)) * time.Second,

		// Collector Identity & Verification
		SkipSignatureVerification: getBoolEnv("SKIP_SIGNATURE_VERIFICATION", false),

		// Consensus Configuration
		ConsensusQuorum: getEnvAsInt("CONSENSUS_QUORUM", 2),

		// Redis Configuration
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		Network:       getEnv("NETWORK_NAMESPACE", "bikera-mainnet"),

		// Reward Distribution
		RewardDistributorURL:   getEnv("REWARD_DISTRIBUTOR_URL", ""),
		RewardDispatchInterval: time.Duration(getEnvAsInt("REWARD_DISPATCH_INTERVAL_SECONDS", 15)) * time.Second,
		RewardDispatchTimeout:  time.Duration(getEnvAsInt("REWARD_DISPATCH_TIMEOUT_SECONDS", 10)) * time.Second,
		RewardMaxRetryElapsed:  time.Duration(getEnvAsInt("REWARD_MAX_RETRY_ELAPSED_SECONDS", 120)) * time.Second,

		// Component Toggles
		EnableAPI:             getBoolEnv("ENABLE_API", true),
		EnableRewardDispatch:  getBoolEnv("ENABLE_REWARD_DISPATCH", true),
		EnableLedgerMirroring: getBoolEnv("ENABLE_LEDGER_MIRRORING", true),
		EnableEventPublishing: getBoolEnv("ENABLE_EVENT_PUBLISHING", true),

		// API Configuration
		APIHost:      getEnv("API_HOST", "0.0.0.0"),
		APIPort:      getEnvAsInt("API_PORT", 8080),
		APIAuthToken: getEnv("API_AUTH_TOKEN", ""),

		// Monitoring & Debugging
		MetricsEnabled: getBoolEnv("METRICS_ENABLED", false),
		MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DebugMode:      getBoolEnv("DEBUG_MODE", false),
	}

	loadCollectorAddresses()

	// Configure logging
	configureLogging()

	// Validate configuration
	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Log configuration summary
	logConfigSummary()

	return nil
}

// loadCollectorAddresses loads registered collector signer addresses
func loadCollectorAddresses() {
	collectorsStr := getEnv("COLLECTOR_ADDRESSES", "")
	if collectorsStr == "" {
		return
	}

	SettingsObj.CollectorAddresses = strings.Split(collectorsStr, ",")

	// Clean and convert to common.Address
	SettingsObj.CollectorAccounts = make([]common.Address, 0, len(SettingsObj.CollectorAddresses))
	for _, addr := range SettingsObj.CollectorAddresses {
		addr = strings.TrimSpace(strings.Trim(addr, "\""))
		if addr != "" && common.IsHexAddress(addr) {
			SettingsObj.CollectorAccounts = append(SettingsObj.CollectorAccounts, common.HexToAddress(addr))
		}
	}
}

// configureLogging sets up the logger based on configuration
func configureLogging() {
	switch strings.ToLower(SettingsObj.LogLevel) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	// Override with debug mode
	if SettingsObj.DebugMode {
		log.SetLevel(log.DebugLevel)
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
}

// validateConfig validates the loaded configuration
func validateConfig() error {
	if SettingsObj.ConsensusQuorum < 1 {
		return fmt.Errorf("CONSENSUS_QUORUM must be at least 1, got %d", SettingsObj.ConsensusQuorum)
	}

	if SettingsObj.GridCellSize <= 0 {
		return fmt.Errorf("GRID_CELL_SIZE_MICRODEG must be positive, got %d", SettingsObj.GridCellSize)
	}

	if !SettingsObj.SkipSignatureVerification && len(SettingsObj.CollectorAccounts) == 0 {
		log.Warn("No collector addresses configured - all batch signatures will be rejected")
	}

	if SettingsObj.EnableRewardDispatch && SettingsObj.RewardDistributorURL == "" {
		log.Warn("Reward dispatch enabled without REWARD_DISTRIBUTOR_URL - owed rewards will accumulate in the outbox")
	}

	if SettingsObj.EnableLedgerMirroring || SettingsObj.EnableEventPublishing {
		if SettingsObj.RedisHost == "" {
			return fmt.Errorf("Redis configuration required when ledger mirroring or event publishing is enabled")
		}
	}

	return nil
}

// logConfigSummary logs a summary of the configuration
func logConfigSummary() {
	log.Info("=== Configuration Loaded ===")
	log.Infof("Validator ID: %s", SettingsObj.ValidatorID)
	log.Infof("Components: API=%v, RewardDispatch=%v, LedgerMirroring=%v, EventPublishing=%v",
		SettingsObj.EnableAPI, SettingsObj.EnableRewardDispatch,
		SettingsObj.EnableLedgerMirroring, SettingsObj.EnableEventPublishing)
	log.Infof("Clustering: cell size %d microdeg, max %d winners, interval %v",
		SettingsObj.GridCellSize, SettingsObj.MaxWinnersPerBlock, SettingsObj.IntervalDuration)
	log.Infof("Consensus quorum: %d collectors", SettingsObj.ConsensusQuorum)
	log.Infof("Registered collectors: %d", len(SettingsObj.CollectorAccounts))
	log.Infof("Redis: %s:%s (DB %d)", SettingsObj.RedisHost, SettingsObj.RedisPort, SettingsObj.RedisDB)

	if SettingsObj.RewardDistributorURL != "" {
		log.Infof("Reward distributor: %s", SettingsObj.RewardDistributorURL)
	}

	log.Info("============================")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		value = strings.ToLower(value)
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// IsRegisteredCollector checks if an address belongs to a registered collector
func IsRegisteredCollector(address common.Address) bool {
	for _, collector := range SettingsObj.CollectorAccounts {
		if collector == address {
			return true
		}
	}
	return false
}
