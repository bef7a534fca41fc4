package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/moments-api/internal/config"
)

// loadAppConfig loads the application configuration from environment variables or config file.
func loadAppConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// logConfigSummary reports the loaded settings without secrets.
func logConfigSummary(cfg *config.Config, logger *slog.Logger) {
	logger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"llm_provider", cfg.LLM.Provider,
		"worker_enabled", cfg.Worker.Enabled,
		"redis_enabled", cfg.Redis.URL != "")

	logger.Debug("Database configuration", "url", maskDatabaseURL(cfg.Database.URL))
	if cfg.Auth.JWTSecret != "" {
		logger.Debug("Auth configuration", "jwt_secret_present", true)
	}
}
