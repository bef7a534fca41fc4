package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port         int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel     string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// LLMConfig contains the settings of the vision and text inference collaborators.
type LLMConfig struct {
	// Provider selects the inference backend: "gemini" or the offline "stub".
	Provider              string `mapstructure:"provider" validate:"required,oneof=gemini stub"`
	GeminiAPIKey          string `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	VisionModel           string `mapstructure:"vision_model" validate:"required"`
	TextModel             string `mapstructure:"text_model" validate:"required"`
	VisionPromptPath      string `mapstructure:"vision_prompt_path"`
	ScenarioPromptPath    string `mapstructure:"scenario_prompt_path"`
	MaxRetries            int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds     int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"gt=0"`
}

// RequestTimeout returns the per-call deadline for inference requests.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// WorkerConfig controls the background task worker.
type WorkerConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PollIntervalMs int  `mapstructure:"poll_interval_ms" validate:"gt=0"`
}

// PollInterval returns the idle wait between worker ticks.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RedisConfig configures the optional wake-up channel between API and worker
// processes. An empty URL disables it.
type RedisConfig struct {
	URL     string `mapstructure:"url" validate:"omitempty,url"`
	Channel string `mapstructure:"channel" validate:"required_with=URL"`
}

// StorageConfig controls where generated thumbnails are written.
type StorageConfig struct {
	ThumbnailDir       string `mapstructure:"thumbnail_dir" validate:"required"`
	ThumbnailURLPrefix string `mapstructure:"thumbnail_url_prefix" validate:"required"`
}
