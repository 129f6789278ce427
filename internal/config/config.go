package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Client    ClientConfig    `mapstructure:"client"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort       int      `mapstructure:"http_port"`
	WSPort         int      `mapstructure:"ws_port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ClientConfig holds the endpoints a client session dials.
type ClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// WebSocketConfig holds WebSocket tuning shared by server and client
// connections.
type WebSocketConfig struct {
	MaxConnNum           int64         `mapstructure:"max_conn_num"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	PingPeriod           time.Duration `mapstructure:"ping_period"`
	WriteChannelSize     int           `mapstructure:"write_channel_size"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// SessionConfig holds client session tuning.
type SessionConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	ReplayBuffer   int           `mapstructure:"replay_buffer"`
	TypingTTL      time.Duration `mapstructure:"typing_ttl"`
	TypingInterval time.Duration `mapstructure:"typing_interval"`
}

// Global config instance
var GlobalConfig *Config

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set defaults
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.WSPort == 0 {
		cfg.Server.WSPort = cfg.Server.HTTPPort + 1
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.HTTPPort)
	}
	if cfg.Client.WSURL == "" {
		cfg.Client.WSURL = fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Server.WSPort)
	}
	if cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "convo-dev-secret"
	}
	if cfg.JWT.ExpireHours == 0 {
		cfg.JWT.ExpireHours = 168 // 7 days
	}
	if cfg.WebSocket.MaxConnNum == 0 {
		cfg.WebSocket.MaxConnNum = 10000
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = 51200
	}
	if cfg.WebSocket.WriteWait == 0 {
		cfg.WebSocket.WriteWait = 10 * time.Second
	}
	if cfg.WebSocket.PongWait == 0 {
		cfg.WebSocket.PongWait = 30 * time.Second
	}
	if cfg.WebSocket.PingPeriod == 0 {
		cfg.WebSocket.PingPeriod = 27 * time.Second
	}
	if cfg.WebSocket.WriteChannelSize == 0 {
		cfg.WebSocket.WriteChannelSize = 256
	}
	if cfg.WebSocket.ReconnectInterval == 0 {
		cfg.WebSocket.ReconnectInterval = 3 * time.Second
	}
	if cfg.WebSocket.MaxReconnectAttempts == 0 {
		cfg.WebSocket.MaxReconnectAttempts = 5
	}
	if cfg.Session.ConfirmTimeout == 0 {
		cfg.Session.ConfirmTimeout = 10 * time.Second
	}
	if cfg.Session.ReplayBuffer == 0 {
		cfg.Session.ReplayBuffer = 256
	}
	if cfg.Session.TypingTTL == 0 {
		cfg.Session.TypingTTL = 5 * time.Second
	}
	if cfg.Session.TypingInterval == 0 {
		cfg.Session.TypingInterval = 2 * time.Second
	}

	GlobalConfig = &cfg
	return &cfg, nil
}
