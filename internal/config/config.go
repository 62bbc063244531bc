package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	JWTSecret              string
	CronSecret             string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	AssessmentCacheTTL     time.Duration
	SweepBatchSize         int
	GradingTimeout         time.Duration
	ArtifactTimeout        time.Duration
	EventSubjectBase       string
	AIProvider             string
	AIModel                string
	OpenAIAPIKey           string
	AnthropicAPIKey        string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("QUILLMARK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Quillmark API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cloudinary.folder", "quillmark/feedback")
	v.SetDefault("assessment.cache_ttl", "5m")
	v.SetDefault("sweep.batch_size", 1000)
	v.SetDefault("grading.timeout", "2m")
	v.SetDefault("artifact.timeout", "30s")
	v.SetDefault("events.subject_base", "quillmark")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")

	ttl, err := parseDuration(v.GetString("assessment.cache_ttl"), 5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid assessment cache ttl: %w", err)
	}

	gradingTimeout, err := parseDuration(v.GetString("grading.timeout"), 2*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid grading timeout: %w", err)
	}

	artifactTimeout, err := parseDuration(v.GetString("artifact.timeout"), 30*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid artifact timeout: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		CronSecret:             v.GetString("cron.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		AssessmentCacheTTL:     ttl,
		SweepBatchSize:         v.GetInt("sweep.batch_size"),
		GradingTimeout:         gradingTimeout,
		ArtifactTimeout:        artifactTimeout,
		EventSubjectBase:       v.GetString("events.subject_base"),
		AIProvider:             strings.ToLower(v.GetString("ai.provider")),
		AIModel:                v.GetString("ai.model"),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		AnthropicAPIKey:        v.GetString("anthropic_api_key"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.CronSecret == "" {
		return Config{}, fmt.Errorf("cron secret must be provided")
	}

	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 1000
	}

	return cfg, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	return time.ParseDuration(value)
}
