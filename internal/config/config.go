// Package config provides configuration loading from environment and
// defaults for the collector.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvInt returns the integer for key, or defaultValue if unset/invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool returns the boolean for key, or defaultValue if unset/invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return b
}

// DefaultPort is the collector's well-known listening port.
const DefaultPort = 8888

// CollectorConfig holds configuration for the collector process.
type CollectorConfig struct {
	Port            int
	LogFile         string
	SummaryFile     string
	RulesFile       string
	MaxBodyBytes    int
	MaxReadBytes    int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AdminAddr       string
	WatchOutputs    bool
	LogLevel        string
	LogFormat       string

	ForwardEnabled  bool
	ForwardEndpoint string
	ForwardAPIKey   string
	ForwardTimeout  time.Duration
}

// HTTPAddr is the listen address for the collector port.
func (c CollectorConfig) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DefaultCollectorConfig returns collector config from environment.
func DefaultCollectorConfig() CollectorConfig {
	ep := GetEnv("FORWARD_ENDPOINT", "")
	key := GetEnv("FORWARD_API_KEY", "")
	return CollectorConfig{
		Port:            GetEnvInt("PORT", DefaultPort),
		LogFile:         GetEnv("LOG_FILE", "geo_attack_log.json"),
		SummaryFile:     GetEnv("SUMMARY_FILE", "geo_attack_summary.json"),
		RulesFile:       GetEnv("RULES_FILE", ""),
		MaxBodyBytes:    GetEnvInt("MAX_BODY_BYTES", 5000),
		MaxReadBytes:    int64(GetEnvInt("MAX_READ_BYTES", 1<<20)),
		ReadTimeout:     GetEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    GetEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AdminAddr:       adminAddr(),
		WatchOutputs:    GetEnvBool("WATCH_OUTPUTS", true),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		LogFormat:       GetEnv("LOG_FORMAT", "json"),
		ForwardEnabled:  ep != "" && key != "",
		ForwardEndpoint: ep,
		ForwardAPIKey:   key,
		ForwardTimeout:  GetEnvDuration("FORWARD_TIMEOUT", 10*time.Second),
	}
}

// adminAddr distinguishes an explicitly empty ADMIN_ADDR (disabled) from an
// unset one.
func adminAddr() string {
	v, ok := os.LookupEnv("ADMIN_ADDR")
	if !ok {
		return ":9090"
	}
	return strings.TrimSpace(v)
}

// ApplyArgs overrides the port with the first positional argument, if any.
func (c *CollectorConfig) ApplyArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[0])
	}
	c.Port = port
	return nil
}
