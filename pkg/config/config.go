// Package config loads service configuration from the environment
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/visiongrade/gradecast/pkg/events"
)

// Config holds the full service configuration
type Config struct {
	DatabaseURL string `json:"database_url"`
	ModelDir    string `json:"model_dir"`
	ListenAddr  string `json:"listen_addr"`
	MetricsPort int    `json:"metrics_port"`
	LogLevel    string `json:"log_level"`

	AuditDBPath string `json:"audit_db_path"`
	MQTT        *events.Config `json:"mqtt"`

	DefaultAttendancePct float64 `json:"default_attendance_pct"`
	FallbackMinMarks     float64 `json:"fallback_min_marks"`
	FallbackMaxMarks     float64 `json:"fallback_max_marks"`
	MinTrainingRows      int     `json:"min_training_rows"`
	TestSplit            float64 `json:"test_split"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		ModelDir:             "models",
		ListenAddr:           ":5001",
		MetricsPort:          9090,
		LogLevel:             "info",
		AuditDBPath:          "gradecast_audit.db",
		MQTT:                 events.DefaultConfig(),
		DefaultAttendancePct: 80.0,
		FallbackMinMarks:     35.0,
		FallbackMaxMarks:     85.0,
		MinTrainingRows:      10,
		TestSplit:            0.2,
	}
}

// Load builds the configuration from defaults overridden by environment
// variables.
func Load() (*Config, error) {
	cfg := Default()

	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.ModelDir = envString("MODEL_DIR", cfg.ModelDir)
	cfg.ListenAddr = envString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsPort = envInt("METRICS_PORT", cfg.MetricsPort)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.AuditDBPath = envString("AUDIT_DB_PATH", cfg.AuditDBPath)

	cfg.MQTT.Enabled = envBool("MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = envString("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Port = envInt("MQTT_PORT", cfg.MQTT.Port)
	cfg.MQTT.ClientID = envString("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = envString("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = envString("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.TopicPrefix = envString("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)

	cfg.DefaultAttendancePct = envFloat("DEFAULT_ATTENDANCE_PCT", cfg.DefaultAttendancePct)
	cfg.FallbackMinMarks = envFloat("FALLBACK_MIN_MARKS", cfg.FallbackMinMarks)
	cfg.FallbackMaxMarks = envFloat("FALLBACK_MAX_MARKS", cfg.FallbackMaxMarks)
	cfg.MinTrainingRows = envInt("MIN_TRAINING_ROWS", cfg.MinTrainingRows)
	cfg.TestSplit = envFloat("TEST_SPLIT", cfg.TestSplit)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR must not be empty")
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT %d out of range", c.MetricsPort)
	}
	if c.TestSplit <= 0 || c.TestSplit >= 1 {
		return fmt.Errorf("TEST_SPLIT %v must be in (0, 1)", c.TestSplit)
	}
	if c.MinTrainingRows < 2 {
		return fmt.Errorf("MIN_TRAINING_ROWS %d too small to split", c.MinTrainingRows)
	}
	if c.FallbackMinMarks >= c.FallbackMaxMarks {
		return fmt.Errorf("fallback clamp range [%v, %v] is empty",
			c.FallbackMinMarks, c.FallbackMaxMarks)
	}
	return nil
}

func envString(key, fallback string) string {
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
