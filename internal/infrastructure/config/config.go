// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// A .env file in the working directory is read first, so both sources can
// reference its values.
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	apiToken := cfg.SchoolAPI.APIToken
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names the collaborator the workflow talks to
type Backend string

const (
	BackendSQLite    Backend = "sqlite"
	BackendSchoolAPI Backend = "school_api"
)

// Config represents the entire application configuration
type Config struct {
	Backend       Backend             `yaml:"backend"`
	Storage       StorageConfig       `yaml:"storage"`
	SchoolAPI     SchoolAPIConfig     `yaml:"school_api"`
	Matching      MatchingConfig      `yaml:"matching"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SchoolAPIConfig holds the school management API settings
type SchoolAPIConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MatchingConfig tunes the suggestion engine
type MatchingConfig struct {
	AmountTolerance   float64 `yaml:"amount_tolerance"`
	DateToleranceDays float64 `yaml:"date_tolerance_days"`
	MinConfidence     float64 `yaml:"min_confidence"`
	CountryCode       string  `yaml:"country_code"`
	Policy            string  `yaml:"policy"` // best_rule or first_rule
}

// WorkflowConfig holds reconciliation workflow settings
type WorkflowConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	ReconciledBy string        `yaml:"reconciled_by"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text (Maven-style) or json
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${SCHOOL_API_TOKEN})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	loadDotEnv()

	cfg := &Config{
		Backend: Backend(getEnv("RECONCILER_BACKEND", string(BackendSQLite))),
		Storage: StorageConfig{
			DatabasePath: getEnv("RECONCILER_DB_PATH", "reconciler.db"),
		},
		SchoolAPI: SchoolAPIConfig{
			BaseURL:  os.Getenv("SCHOOL_API_URL"),
			APIToken: os.Getenv("SCHOOL_API_TOKEN"),
			Timeout:  getEnvDuration("SCHOOL_API_TIMEOUT", 30*time.Second),
		},
		Matching: MatchingConfig{
			AmountTolerance:   getEnvFloat("MATCH_AMOUNT_TOLERANCE", 0.01),
			DateToleranceDays: getEnvFloat("MATCH_DATE_TOLERANCE_DAYS", 7),
			MinConfidence:     getEnvFloat("MATCH_MIN_CONFIDENCE", 3),
			CountryCode:       getEnv("MATCH_COUNTRY_CODE", "254"),
			Policy:            getEnv("MATCH_POLICY", "best_rule"),
		},
		Workflow: WorkflowConfig{
			CacheTTL:     getEnvDuration("BANK_CACHE_TTL", 5*time.Minute),
			ReconciledBy: getEnv("RECONCILED_BY", "system"),
		},
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8085),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// Validate checks settings that would fail later in confusing ways
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.Storage.DatabasePath == "" {
			return fmt.Errorf("storage.database_path is required for the sqlite backend")
		}
	case BackendSchoolAPI:
		if c.SchoolAPI.BaseURL == "" {
			return fmt.Errorf("school_api.base_url is required for the school_api backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.Matching.Policy {
	case "best_rule", "first_rule":
	default:
		return fmt.Errorf("unknown matching policy %q", c.Matching.Policy)
	}
	return nil
}

// applyDefaults fills zero values left by a partial YAML file
func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reconciler.db"
	}
	if c.SchoolAPI.Timeout == 0 {
		c.SchoolAPI.Timeout = 30 * time.Second
	}
	if c.Matching.AmountTolerance == 0 {
		c.Matching.AmountTolerance = 0.01
	}
	if c.Matching.DateToleranceDays == 0 {
		c.Matching.DateToleranceDays = 7
	}
	if c.Matching.MinConfidence == 0 {
		c.Matching.MinConfidence = 3
	}
	if c.Matching.CountryCode == "" {
		c.Matching.CountryCode = "254"
	}
	if c.Matching.Policy == "" {
		c.Matching.Policy = "best_rule"
	}
	if c.Workflow.CacheTTL == 0 {
		c.Workflow.CacheTTL = 5 * time.Minute
	}
	if c.Workflow.ReconciledBy == "" {
		c.Workflow.ReconciledBy = "system"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8085
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// loadDotEnv reads .env if present. Existing environment variables win.
func loadDotEnv() {
	_ = godotenv.Load()
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetAPIKey retrieves an API key from config first, then tries multiple environment variable names
// Usage: GetAPIKey(cfg.SchoolAPI.APIToken, "SCHOOL_API_TOKEN", "SCHOOL_TOKEN")
func (c *Config) GetAPIKey(configValue string, envVarNames ...string) string {
	if configValue != "" {
		return configValue
	}
	for _, envVar := range envVarNames {
		if val := os.Getenv(envVar); val != "" {
			return val
		}
	}
	return ""
}
