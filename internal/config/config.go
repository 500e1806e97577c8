// Package config provides configuration management functionality.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/arbiphoenix/phoenix/internal/domain"
)

// Config holds application configuration
type Config struct {
	LogLevel string
	Port     int
	DevMode  bool

	// Gateway selection
	GatewayVariant string // MT5, MT4, CTRADER, IB, OANDA, FXCM

	// Opportunity detection
	MinArbitrageProfit float64 // pips
	MaxSpreadCost      float64 // pips
	ScanInterval       time.Duration
	MaxConcurrentExecs int

	// Position sizing
	TargetExposurePerLeg float64 // account currency units per leg
	LotStep              float64
	MinLot               float64
	MaxLot               float64
	BalanceTolerance     float64 // fraction, e.g. 0.05
	DefaultContractSize  float64 // units of base currency per 1.00 lot

	// Execution
	RetryAttempts int
	RetryDelay    time.Duration

	// Recovery
	MaxRecoveryLayers  int
	RecoveryMultiplier float64
	StrongCorrelation  float64
	MediumCorrelation  float64
	WeakCorrelation    float64
	MaxDrawdownTrigger float64 // percent
	MaxRecoveryTime    time.Duration
	RecoveryInterval   time.Duration

	// Profit harvesting
	ProfitLevels        []float64 // pips per level
	ProfitPercentages   []float64 // percent of remaining volume per level
	TrailingStopPips    float64
	BreakevenTrigger    float64 // pips
	MaxPositionTime     time.Duration
	HarvestInterval     time.Duration
	OptimizationEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PHOENIX_PORT", 8011),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		GatewayVariant: strings.ToUpper(getEnv("GATEWAY_VARIANT", "MT5")),

		MinArbitrageProfit: getEnvAsFloat("MIN_ARBITRAGE_PROFIT", 5),
		MaxSpreadCost:      getEnvAsFloat("MAX_SPREAD_COST", 8),
		ScanInterval:       getEnvAsDuration("SCAN_INTERVAL", 100*time.Millisecond),
		MaxConcurrentExecs: getEnvAsInt("MAX_CONCURRENT_EXECUTIONS", 3),

		TargetExposurePerLeg: getEnvAsFloat("TARGET_EXPOSURE_PER_LEG", 10000),
		LotStep:              getEnvAsFloat("LOT_STEP", 0.01),
		MinLot:               getEnvAsFloat("MIN_LOT", 0.01),
		MaxLot:               getEnvAsFloat("MAX_LOT", 100.0),
		BalanceTolerance:     getEnvAsFloat("BALANCE_TOLERANCE", 0.05),
		DefaultContractSize:  getEnvAsFloat("DEFAULT_CONTRACT_SIZE", 100000),

		RetryAttempts: getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:    getEnvAsDuration("RETRY_DELAY", 100*time.Millisecond),

		MaxRecoveryLayers:  getEnvAsInt("MAX_RECOVERY_LAYERS", 6),
		RecoveryMultiplier: getEnvAsFloat("RECOVERY_MULTIPLIER", 1.5),
		StrongCorrelation:  getEnvAsFloat("STRONG_CORRELATION", 0.8),
		MediumCorrelation:  getEnvAsFloat("MEDIUM_CORRELATION", 0.6),
		WeakCorrelation:    getEnvAsFloat("WEAK_CORRELATION", 0.4),
		MaxDrawdownTrigger: getEnvAsFloat("MAX_DRAWDOWN_TRIGGER", 15.0),
		MaxRecoveryTime:    getEnvAsDuration("MAX_RECOVERY_TIME", 4*time.Hour),
		RecoveryInterval:   getEnvAsDuration("RECOVERY_INTERVAL", 5*time.Second),

		ProfitLevels:        getEnvAsFloats("PROFIT_LEVELS", []float64{8, 15, 25, 40}),
		ProfitPercentages:   getEnvAsFloats("PROFIT_PERCENTAGES", []float64{25, 25, 30, 20}),
		TrailingStopPips:    getEnvAsFloat("TRAILING_STOP_DISTANCE", 10),
		BreakevenTrigger:    getEnvAsFloat("BREAKEVEN_TRIGGER", 15),
		MaxPositionTime:     getEnvAsDuration("MAX_POSITION_TIME", time.Hour),
		HarvestInterval:     getEnvAsDuration("HARVEST_INTERVAL", 2*time.Second),
		OptimizationEnabled: getEnvAsBool("OPTIMIZE_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.MinLot <= 0 {
		return &domain.ConfigurationError{Key: "MIN_LOT", Reason: "must be positive"}
	}
	if c.LotStep <= 0 {
		return &domain.ConfigurationError{Key: "LOT_STEP", Reason: "must be positive"}
	}
	if c.MaxLot < c.MinLot {
		return &domain.ConfigurationError{Key: "MAX_LOT", Reason: "must be >= MIN_LOT"}
	}
	if c.TargetExposurePerLeg <= 0 {
		return &domain.ConfigurationError{Key: "TARGET_EXPOSURE_PER_LEG", Reason: "must be positive"}
	}
	if c.BalanceTolerance < 0 || c.BalanceTolerance > 1 {
		return &domain.ConfigurationError{Key: "BALANCE_TOLERANCE", Reason: "must be a fraction in [0,1]"}
	}
	if c.MaxRecoveryLayers < 0 {
		return &domain.ConfigurationError{Key: "MAX_RECOVERY_LAYERS", Reason: "must be >= 0"}
	}
	if c.RecoveryMultiplier <= 0 {
		return &domain.ConfigurationError{Key: "RECOVERY_MULTIPLIER", Reason: "must be positive"}
	}
	if !(c.WeakCorrelation <= c.MediumCorrelation && c.MediumCorrelation <= c.StrongCorrelation) {
		return &domain.ConfigurationError{Key: "STRONG_CORRELATION", Reason: "thresholds must be ordered weak <= medium <= strong"}
	}
	for _, threshold := range []float64{c.StrongCorrelation, c.MediumCorrelation, c.WeakCorrelation} {
		if threshold < -1 || threshold > 1 {
			return &domain.ConfigurationError{Key: "CORRELATION", Reason: "thresholds must be in [-1,1]"}
		}
	}
	if len(c.ProfitLevels) == 0 || len(c.ProfitLevels) != len(c.ProfitPercentages) {
		return &domain.ConfigurationError{Key: "PROFIT_LEVELS", Reason: "levels and percentages must be non-empty and equal length"}
	}
	return nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Plain numbers are treated as seconds
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

func getEnvAsFloats(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}
