// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	API          APIConfig          `mapstructure:"api"`
	Push         PushConfig         `mapstructure:"push"`
	Transport    TransportConfig    `mapstructure:"transport"`
	Session      SessionConfig      `mapstructure:"session"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Inbox        InboxConfig        `mapstructure:"inbox"`
	Presentation PresentationConfig `mapstructure:"presentation"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// --- Core App Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// IsProduction reports whether the app runs with production settings.
func (a AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// APIConfig points at the platform REST API.
type APIConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	NotificationsPath string `mapstructure:"notifications_path"`
	Timeout           int    `mapstructure:"timeout"` // milliseconds
}

// PushConfig describes the push channel endpoint.
type PushConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Topic    string `mapstructure:"topic"`
	Host     string `mapstructure:"host"`
	Origin   string `mapstructure:"origin"`
	QueueLen int    `mapstructure:"queue_len"`
}

// TransportConfig controls the push transport's own reconnect defaults.
type TransportConfig struct {
	// Debug is a pointer so an unset value can default from the environment.
	Debug               *bool   `mapstructure:"debug"`
	HandshakeTimeout    int     `mapstructure:"handshake_timeout"` // milliseconds
	HeartbeatSend       int     `mapstructure:"heartbeat_send"`    // milliseconds
	HeartbeatReceive    int     `mapstructure:"heartbeat_receive"` // milliseconds
	ReconnectInitial    int     `mapstructure:"reconnect_initial"` // milliseconds
	ReconnectMax        int     `mapstructure:"reconnect_max"`     // milliseconds
	ReconnectMultiplier float64 `mapstructure:"reconnect_multiplier"`
	ReconnectJitter     float64 `mapstructure:"reconnect_jitter"`
	MaxAttempts         int     `mapstructure:"max_attempts"` // 0 = unlimited
}

// DebugEnabled reports the effective debug switch.
func (t TransportConfig) DebugEnabled() bool {
	return t.Debug != nil && *t.Debug
}

// SessionConfig controls where bearer tokens are read from.
type SessionConfig struct {
	UserID      string   `mapstructure:"user_id"`
	Stores      []string `mapstructure:"stores"` // keyring, redis, env
	Token       string   `mapstructure:"token"`
	KeyringName string   `mapstructure:"keyring_service"`
	KeyringDir  string   `mapstructure:"keyring_dir"`
	RedisPrefix string   `mapstructure:"redis_prefix"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// InboxConfig tunes the Inbox Cache.
type InboxConfig struct {
	MarkAllConcurrency int `mapstructure:"mark_all_concurrency"`
	RefetchTimeout     int `mapstructure:"refetch_timeout"` // milliseconds
}

// PresentationConfig tunes alert rendering.
type PresentationConfig struct {
	Language  string  `mapstructure:"language"`
	AlertBuf  int     `mapstructure:"alert_buffer"`
	SwipeDist float64 `mapstructure:"swipe_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig controls the agent's HTTP surface.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// NotificationsURL joins the API base URL and notifications path.
func (a APIConfig) NotificationsURL() string {
	return fmt.Sprintf("%s%s", a.BaseURL, a.NotificationsPath)
}
