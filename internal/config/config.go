// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Security
	AdminSecret  string // Shared secret guarding admin review routes
	RateLimitRPM int    // Requests per minute per client

	// Auto-approval policy overrides (see AutoApproval)
	maxRiskScore       int
	minAccountAgeDays  int
	maxSameIPReferrals int
	maxDailyReferrals  int
}

// AutoApprovalPolicy is the tunable risk policy loaded per evaluation.
type AutoApprovalPolicy struct {
	EnableIPCheck         bool
	EnableDeviceCheck     bool
	EnableBehavioralCheck bool
	EnableVPNCheck        bool
	EnableTimingCheck     bool

	MaxRiskScore       int // scores above this are never auto-approved
	MinAccountAgeDays  int
	MaxSameIPReferrals int
	MaxDailyReferrals  int

	RequireKYC           bool
	RequireEmailVerified bool
	RequirePhoneVerified bool
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultRateLimitRPM       = 120
	DefaultMaxRiskScore       = 70
	DefaultMinAccountAgeDays  = 7
	DefaultMaxSameIPReferrals = 5
	DefaultMaxDailyReferrals  = 5
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		maxRiskScore:       getEnvInt("AUTOAPPROVE_MAX_RISK_SCORE", DefaultMaxRiskScore),
		minAccountAgeDays:  getEnvInt("AUTOAPPROVE_MIN_ACCOUNT_AGE_DAYS", DefaultMinAccountAgeDays),
		maxSameIPReferrals: getEnvInt("AUTOAPPROVE_MAX_SAME_IP_REFERRALS", DefaultMaxSameIPReferrals),
		maxDailyReferrals:  getEnvInt("AUTOAPPROVE_MAX_DAILY_REFERRALS", DefaultMaxDailyReferrals),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.maxRiskScore < 0 || c.maxRiskScore > 100 {
		return fmt.Errorf("AUTOAPPROVE_MAX_RISK_SCORE must be in [0,100], got %d", c.maxRiskScore)
	}
	if c.minAccountAgeDays < 0 {
		return fmt.Errorf("AUTOAPPROVE_MIN_ACCOUNT_AGE_DAYS must be >= 0, got %d", c.minAccountAgeDays)
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// AutoApproval returns the risk policy for referral evaluation.
// Enable flags come from env ("false" disables a checker); thresholds come
// from the loaded overrides. The returned value is a snapshot: callers treat
// it as immutable for the duration of one evaluation.
func (c *Config) AutoApproval() AutoApprovalPolicy {
	return AutoApprovalPolicy{
		EnableIPCheck:         getEnvBool("AUTOAPPROVE_IP_CHECK", true),
		EnableDeviceCheck:     getEnvBool("AUTOAPPROVE_DEVICE_CHECK", true),
		EnableBehavioralCheck: getEnvBool("AUTOAPPROVE_BEHAVIORAL_CHECK", true),
		EnableVPNCheck:        getEnvBool("AUTOAPPROVE_VPN_CHECK", true),
		EnableTimingCheck:     getEnvBool("AUTOAPPROVE_TIMING_CHECK", true),
		MaxRiskScore:          c.maxRiskScore,
		MinAccountAgeDays:     c.minAccountAgeDays,
		MaxSameIPReferrals:    c.maxSameIPReferrals,
		MaxDailyReferrals:     c.maxDailyReferrals,
		RequireKYC:            getEnvBool("AUTOAPPROVE_REQUIRE_KYC", true),
		RequireEmailVerified:  getEnvBool("AUTOAPPROVE_REQUIRE_EMAIL_VERIFIED", true),
		RequirePhoneVerified:  getEnvBool("AUTOAPPROVE_REQUIRE_PHONE_VERIFIED", false),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
