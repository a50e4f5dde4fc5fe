package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yourusername/social-dl-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.social-dl")
		v.AddConfigPath("/etc/social-dl")
	}

	// SOCIALDL_DOWNLOAD_FILE_TTL overrides download.file_ttl
	v.SetEnvPrefix("SOCIALDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers the keys that may come only from the environment.
// AutomaticEnv alone is not consulted by Unmarshal for keys viper has never
// seen in a file or default.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.host",
		"server.port",
		"download.dir",
		"download.file_ttl",
		"download.sweep_interval",
		"download.workers",
		"download.queue_size",
		"download.max_batch_size",
		"download.socket_timeout",
		"download.retries",
		"download.ytdlp_binary",
		"security.require_api_key",
		"security.header_name",
		"security.api_keys",
		"rate_limit.enabled",
		"rate_limit.requests_per_minute",
		"history.enabled",
		"history.driver",
		"history.database_path",
		"history.dsn",
		"events.enabled",
		"events.amqp_url",
		"logging.level",
		"logging.format",
		"logging.logs_dir",
	} {
		_ = v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.Dir = expandPath(config.Download.Dir)
	config.History.DatabasePath = expandPath(config.History.DatabasePath)
	config.Logging.LogsDir = expandPath(config.Logging.LogsDir)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Download.Dir == "" {
		return fmt.Errorf("download directory not configured")
	}

	if config.Download.FileTTL <= 0 {
		return fmt.Errorf("file ttl must be positive")
	}

	if config.Download.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if config.Download.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if config.Download.QueueSize < 0 {
		return fmt.Errorf("queue size cannot be negative")
	}

	if config.Download.MaxBatchSize < 1 {
		return fmt.Errorf("max batch size must be at least 1")
	}

	if config.Download.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}

	for platform, pc := range config.Platforms {
		if !domain.ValidatePlatform(platform) {
			return fmt.Errorf("unknown platform in config: %s", platform)
		}
		if pc.MaxConcurrent < 0 {
			return fmt.Errorf("max concurrent for %s cannot be negative", platform)
		}
	}

	if config.Security.RequireAPIKey && len(config.Security.APIKeys) == 0 {
		return fmt.Errorf("api key required but no api keys configured")
	}

	if config.Security.HeaderName == "" {
		config.Security.HeaderName = "X-API-Key"
	}

	if config.History.Enabled {
		switch config.History.Driver {
		case "sqlite":
			if config.History.DatabasePath == "" {
				return fmt.Errorf("history database path not configured")
			}
		case "postgres":
			if config.History.DSN == "" {
				return fmt.Errorf("history dsn not configured")
			}
		default:
			return fmt.Errorf("unsupported history driver: %s", config.History.Driver)
		}
	}

	if config.Events.Enabled && config.Events.AMQPURL == "" {
		return fmt.Errorf("events enabled but amqp url not configured")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}
