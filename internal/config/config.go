package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	EventChannel  string

	SchemaVersion int
	TokenSecret   string
	TokenTTL      time.Duration

	GeminiAPIKey string
	GeminiModel  string

	AuthRateRPS    float64
	AuthRateBurst  int
	TrustedProxies []string
}

// fileConfig mirrors Config for the optional YAML overlay named by CONFIG_FILE.
type fileConfig struct {
	HTTPAddr      string  `yaml:"httpAddr"`
	DatabaseURL   string  `yaml:"databaseURL"`
	LogLevel      string  `yaml:"logLevel"`
	RedisAddr     string  `yaml:"redisAddr"`
	RedisPassword string  `yaml:"redisPassword"`
	EventChannel  string  `yaml:"eventChannel"`
	SchemaVersion int     `yaml:"schemaVersion"`
	TokenSecret   string  `yaml:"tokenSecret"`
	TokenTTL      string  `yaml:"tokenTTL"`
	GeminiAPIKey  string  `yaml:"geminiAPIKey"`
	GeminiModel   string  `yaml:"geminiModel"`
	AuthRateRPS   float64 `yaml:"authRateRPS"`
	AuthRateBurst int     `yaml:"authRateBurst"`

	TrustedProxies []string `yaml:"trustedProxies"`
}

func Load() (Config, error) {
	file, err := loadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", orDefault(file.HTTPAddr, ":8080")),
		DatabaseURL: getEnv("DATABASE_URL", orDefault(file.DatabaseURL, "sqlite::memory:")),
		LogLevel:    strings.TrimSpace(getEnv("LOG_LEVEL", orDefault(file.LogLevel, "info"))),

		RedisAddr:     strings.TrimSpace(getEnv("REDIS_ADDR", file.RedisAddr)),
		RedisPassword: getEnv("REDIS_PASSWORD", file.RedisPassword),
		EventChannel:  getEnv("EVENT_CHANNEL", orDefault(file.EventChannel, "nexus_socket_v1")),

		TokenSecret: getEnv("TOKEN_SECRET", file.TokenSecret),

		GeminiAPIKey: strings.TrimSpace(getEnv("GEMINI_API_KEY", file.GeminiAPIKey)),
		GeminiModel:  strings.TrimSpace(getEnv("GEMINI_MODEL", orDefault(file.GeminiModel, "gemini-2.0-flash"))),

		TrustedProxies: file.TrustedProxies,
	}
	if raw := getEnv("TRUSTED_PROXIES", ""); raw != "" {
		cfg.TrustedProxies = splitList(raw)
	}

	if cfg.SchemaVersion, err = getEnvInt("SCHEMA_VERSION", orDefaultInt(file.SchemaVersion, 3)); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", orDefault(file.TokenTTL, "168h")); err != nil {
		return Config{}, err
	}
	if cfg.AuthRateBurst, err = getEnvInt("AUTH_RATE_BURST", orDefaultInt(file.AuthRateBurst, 10)); err != nil {
		return Config{}, err
	}
	rps := file.AuthRateRPS
	if rps <= 0 {
		rps = 5
	}
	if cfg.AuthRateRPS, err = getEnvFloat("AUTH_RATE_RPS", rps); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SchemaVersion <= 0 {
		return Config{}, fmt.Errorf("SCHEMA_VERSION must be positive")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("TOKEN_TTL must be positive")
	}

	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config: %w", err)
	}
	return fc, nil
}

func getEnv(key, defaultValue string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnv(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Join(fmt.Errorf("%s must be a duration", key), err)
	}
	return d, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
