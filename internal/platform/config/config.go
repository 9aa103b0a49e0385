package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig               `yaml:"server"`
	Log       LogConfig                  `yaml:"log"`
	Web       WebConfig                  `yaml:"web"`
	Transport TransportConfig            `yaml:"transport"`
	Capture   CaptureConfig              `yaml:"capture"`
	Image     ImageSecurityConfig        `yaml:"image"`
	Agent     AgentConfig                `yaml:"agent"`
	Cache     CacheConfig                `yaml:"cache"`
	MCP       MCPConfig                  `yaml:"mcp"`
	Selected  SelectedConfig             `yaml:"selected_module"`
	Vision    map[string]ProviderConfig  `yaml:"Vision"`
	Reasoning map[string]ProviderConfig  `yaml:"Reasoning"`
	Speech    map[string]SpeechConfig    `yaml:"Speech"`
}

type ServerConfig struct {
	Name string `yaml:"name"`
	// Token is required from devices on the websocket link when set.
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	Enabled   bool      `yaml:"enabled"`
	IP        string    `yaml:"ip"`
	Port      int       `yaml:"port"`
	StaticDir string    `yaml:"static_dir"`
	JWT       JWTConfig `yaml:"jwt"`
}

type JWTConfig struct {
	Enabled bool          `yaml:"enabled"`
	Secret  string        `yaml:"secret"`
	Issuer  string        `yaml:"issuer"`
	Expiry  time.Duration `yaml:"expiry"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
}

type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	DeviceID       string        `yaml:"device_id"`
	QoS            int           `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type CaptureConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

type ImageSecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
	EnableDeepScan bool     `yaml:"enable_deep_scan"`
}

type AgentConfig struct {
	FallbackAnswer string        `yaml:"fallback_answer"`
	ResyncDebounce time.Duration `yaml:"resync_debounce"`
	SpeakAnswers   bool          `yaml:"speak_answers"`
	StartListening bool          `yaml:"start_listening"`
}

type CacheConfig struct {
	Driver  string           `yaml:"driver"`
	TTL     time.Duration    `yaml:"ttl"`
	Cleanup time.Duration    `yaml:"cleanup"`
	SQLite  CacheSQLiteStore `yaml:"sqlite,omitempty"`
	Redis   CacheRedisStore  `yaml:"redis,omitempty"`
}

type CacheSQLiteStore struct {
	DSN string `yaml:"dsn,omitempty"`
}

type CacheRedisStore struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`
}

type SelectedConfig struct {
	Vision    string `yaml:"Vision"`
	Reasoning string `yaml:"Reasoning"`
	Speech    string `yaml:"Speech"`
}

// ProviderConfig configures a vision or reasoning model endpoint.
type ProviderConfig struct {
	Type        string        `yaml:"type"`
	ModelName   string        `yaml:"model_name"`
	BaseURL     string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Prompt      string        `yaml:"prompt"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SpeechConfig struct {
	Type  string `yaml:"type"`
	Voice string `yaml:"voice"`
}
