package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for hl7bridge
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	MLLP    MLLPConfig    `yaml:"mllp"`
	Upload  UploadConfig  `yaml:"upload"`
	Pacing  PacingConfig  `yaml:"pacing"`
	Mapping MappingConfig `yaml:"mapping"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// MLLPConfig holds the downstream MLLP listener configuration
type MLLPConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// UploadConfig holds upload session lifecycle configuration
type UploadConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	PreviewSize   int           `yaml:"preview_size"`
	MaxErrors     int           `yaml:"max_errors"` // cap on errors in a terminal result
}

// PacingConfig holds the inter-message delays protecting the downstream listener
type PacingConfig struct {
	MessageDelay time.Duration `yaml:"message_delay"` // between HL7 generations
	SendDelay    time.Duration `yaml:"send_delay"`    // between MLLP sends
	PollInterval time.Duration `yaml:"poll_interval"` // progress stream emission interval
}

// MappingMode selects the column mapping strategy chain
type MappingMode string

const (
	// MappingModeFuzzy uses only the alias table and keyword matching
	MappingModeFuzzy MappingMode = "fuzzy"
	// MappingModeClassifier tries the remote classifier first, falling back to fuzzy
	MappingModeClassifier MappingMode = "classifier"
)

// MappingConfig holds column mapping configuration
type MappingConfig struct {
	Mode              MappingMode   `yaml:"mode"`
	ClassifierURL     string        `yaml:"classifier_url"`
	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := LoadFromEnv()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables with defaults
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 3010),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		MLLP: MLLPConfig{
			Host:    getEnv("MLLP_HOST", "localhost"),
			Port:    getEnvInt("MLLP_PORT", 6661),
			Timeout: getEnvDuration("MLLP_TIMEOUT", 15*time.Second),
		},
		Upload: UploadConfig{
			SessionTTL:    getEnvDuration("SESSION_TTL", time.Hour),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			PreviewSize:   getEnvInt("PREVIEW_SIZE", 10),
			MaxErrors:     getEnvInt("RESULT_MAX_ERRORS", 10),
		},
		Pacing: PacingConfig{
			MessageDelay: getEnvDuration("MESSAGE_DELAY", time.Second),
			SendDelay:    getEnvDuration("SEND_DELAY", 200*time.Millisecond),
			PollInterval: getEnvDuration("POLL_INTERVAL", 500*time.Millisecond),
		},
		Mapping: MappingConfig{
			Mode:              MappingMode(getEnv("MAPPING_MODE", string(MappingModeFuzzy))),
			ClassifierURL:     getEnv("CLASSIFIER_URL", ""),
			ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
