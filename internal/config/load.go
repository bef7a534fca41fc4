package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. MOMENTS_SERVER_PORT.
const EnvPrefix = "MOMENTS"

// defaults lists every known key. Required keys default to the empty string
// so viper knows about them when reading the environment.
var defaults = map[string]any{
	"server.port":                  8080,
	"server.log_level":             "info",
	"server.max_body_bytes":        10 << 20,
	"database.url":                 "",
	"auth.jwt_secret":              "",
	"auth.token_lifetime_minutes":  60,
	"llm.provider":                 "gemini",
	"llm.gemini_api_key":           "",
	"llm.vision_model":             "gemini-2.0-flash",
	"llm.text_model":               "gemini-2.0-flash",
	"llm.vision_prompt_path":       "",
	"llm.scenario_prompt_path":     "",
	"llm.max_retries":              3,
	"llm.retry_delay_seconds":      2,
	"llm.request_timeout_seconds":  60,
	"worker.enabled":               true,
	"worker.poll_interval_ms":      1000,
	"redis.url":                    "",
	"redis.channel":                "moments:tasks",
	"storage.thumbnail_dir":        "public/uploads/thumbnails",
	"storage.thumbnail_url_prefix": "/uploads/thumbnails",
}

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over the file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs the struct validation rules over cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
