// internal/common/config/loader.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads config.yaml and config.<env>.yaml from the usual locations,
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetDefault("app.environment", env)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// No default: the effective value depends on app.environment.
	_ = v.BindEnv("transport.debug")
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "notifier-agent")
	v.SetDefault("app.version", "dev")

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.notifications_path", "/api/notifications")
	v.SetDefault("api.timeout", 15000)

	v.SetDefault("push.enabled", true)
	v.SetDefault("push.url", "")
	v.SetDefault("push.topic", "/topic/notifications")
	v.SetDefault("push.host", "")
	v.SetDefault("push.origin", "")
	v.SetDefault("push.queue_len", 64)

	v.SetDefault("transport.handshake_timeout", 10000)
	v.SetDefault("transport.heartbeat_send", 10000)
	v.SetDefault("transport.heartbeat_receive", 10000)
	v.SetDefault("transport.reconnect_initial", 1000)
	v.SetDefault("transport.reconnect_max", 30000)
	v.SetDefault("transport.reconnect_multiplier", 2.0)
	v.SetDefault("transport.reconnect_jitter", 0.5)
	v.SetDefault("transport.max_attempts", 0)

	v.SetDefault("session.user_id", "")
	v.SetDefault("session.stores", []string{"env", "keyring"})
	v.SetDefault("session.token", "")
	v.SetDefault("session.keyring_service", "civic-notifier")
	v.SetDefault("session.keyring_dir", "~/.config/civic-notifier/credentials")
	v.SetDefault("session.redis_prefix", "session")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("inbox.mark_all_concurrency", 4)
	v.SetDefault("inbox.refetch_timeout", 15000)

	v.SetDefault("presentation.language", "fr")
	v.SetDefault("presentation.alert_buffer", 32)
	v.SetDefault("presentation.swipe_threshold", 120.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
}

// applyDefaults fills values that depend on other settings or were zeroed explicitly.
func applyDefaults(cfg *Config) {
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	// Frame-level transport logging is off in production unless asked for.
	if cfg.Transport.Debug == nil {
		debug := !cfg.App.IsProduction()
		cfg.Transport.Debug = &debug
	}

	if cfg.Transport.ReconnectInitial <= 0 {
		cfg.Transport.ReconnectInitial = 1000
	}
	if cfg.Transport.ReconnectMax < cfg.Transport.ReconnectInitial {
		cfg.Transport.ReconnectMax = cfg.Transport.ReconnectInitial
	}
	if cfg.Transport.ReconnectMultiplier < 1 {
		cfg.Transport.ReconnectMultiplier = 2
	}
	if cfg.Push.QueueLen <= 0 {
		cfg.Push.QueueLen = 64
	}
	if cfg.Inbox.MarkAllConcurrency <= 0 {
		cfg.Inbox.MarkAllConcurrency = 4
	}
	if cfg.Presentation.AlertBuf <= 0 {
		cfg.Presentation.AlertBuf = 32
	}
	if len(cfg.Session.Stores) == 0 {
		cfg.Session.Stores = []string{"env"}
	}
	cfg.API.BaseURL = strings.TrimSuffix(cfg.API.BaseURL, "/")
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if _, err := url.ParseRequestURI(cfg.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is invalid: %w", err)
	}

	if cfg.Push.Enabled {
		if cfg.Push.URL == "" {
			return fmt.Errorf("push.url is required when push is enabled")
		}
		u, err := url.Parse(cfg.Push.URL)
		if err != nil {
			return fmt.Errorf("push.url is invalid: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("push.url must use ws or wss, got %q", u.Scheme)
		}
		if cfg.Push.Topic == "" {
			return fmt.Errorf("push.topic is required")
		}
	}

	for _, store := range cfg.Session.Stores {
		switch store {
		case "env", "keyring":
		case "redis":
			if cfg.Redis.Address == "" {
				return fmt.Errorf("redis.address is required for the redis session store")
			}
		default:
			return fmt.Errorf("unknown session store %q", store)
		}
	}

	return nil
}
