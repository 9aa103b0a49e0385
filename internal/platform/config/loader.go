package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"glass-server-go/internal/platform/errors"
)

const (
	envConfigPath   = "GLASS_CONFIG"
	envLogLevel     = "GLASS_LOG_LEVEL"
	envWebPort      = "GLASS_WEB_PORT"
	envWSPort       = "GLASS_WS_PORT"
	envDeviceToken  = "GLASS_DEVICE_TOKEN"
	envJWTSecret    = "GLASS_JWT_SECRET"
	envMQTTBroker   = "GLASS_MQTT_BROKER"
	envOpenAIAPIKey = "GLASS_OPENAI_API_KEY"
	envRedisAddr    = "GLASS_REDIS_ADDR"
)

var defaultPaths = []string{".config.yaml", "config.yaml"}

// Loader reads configuration from defaults, a YAML file, .env and the environment.
type Loader struct {
	useDotEnv bool
	path      string
	getenv    func(string) string
}

// NewLoader creates a loader that searches the default config locations.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		getenv:    os.Getenv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the config file location.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	if getenv != nil {
		l.getenv = getenv
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load merges all sources and validates the result.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("未找到 .env 文件，使用系统环境变量")
		}
	}

	cfg := DefaultConfig()
	path := l.resolvePath()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.read", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.parse", path, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() string {
	if l.path != "" {
		return l.path
	}
	if p := l.getenv(envConfigPath); p != "" {
		return p
	}
	for _, candidate := range defaultPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v := l.getenv(envLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := l.getenv(envWebPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", envWebPort, err)
		}
		cfg.Web.Port = port
	}
	if v := l.getenv(envWSPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", envWSPort, err)
		}
		cfg.Transport.WebSocket.Port = port
	}
	if v := l.getenv(envDeviceToken); v != "" {
		cfg.Server.Token = v
	}
	if v := l.getenv(envJWTSecret); v != "" {
		cfg.Web.JWT.Secret = v
	}
	if v := l.getenv(envMQTTBroker); v != "" {
		cfg.Transport.MQTT.Broker = v
	}
	if v := l.getenv(envRedisAddr); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if key := l.getenv(envOpenAIAPIKey); key != "" {
		fillAPIKey(cfg.Vision, key)
		fillAPIKey(cfg.Reasoning, key)
	}
	return nil
}

func fillAPIKey(providers map[string]ProviderConfig, key string) {
	for name, p := range providers {
		if p.Type == "openai" && p.APIKey == "" {
			p.APIKey = key
			providers[name] = p
		}
	}
}

func (l *Loader) validate(cfg *Config) error {
	return cfg.Validate()
}

// Validate checks ports, durations and the selected providers.
func (c *Config) Validate() error {
	if c.Web.Enabled && !validPort(c.Web.Port) {
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("invalid web port: %d", c.Web.Port))
	}
	if c.Transport.WebSocket.Enabled && !validPort(c.Transport.WebSocket.Port) {
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("invalid websocket port: %d", c.Transport.WebSocket.Port))
	}
	if c.Capture.Cooldown < 0 {
		return errors.New(errors.KindConfig, "config.validate", "capture cooldown must not be negative")
	}
	if c.Agent.ResyncDebounce < 0 {
		return errors.New(errors.KindConfig, "config.validate", "resync debounce must not be negative")
	}
	if c.Web.JWT.Enabled && strings.TrimSpace(c.Web.JWT.Secret) == "" {
		return errors.New(errors.KindConfig, "config.validate", "jwt enabled without a secret")
	}
	if c.Transport.MQTT.Enabled && c.Transport.MQTT.Broker == "" {
		return errors.New(errors.KindConfig, "config.validate", "mqtt enabled without a broker")
	}
	if q := c.Transport.MQTT.QoS; q < 0 || q > 2 {
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("invalid mqtt qos: %d", q))
	}
	switch strings.ToLower(c.Cache.Driver) {
	case "", "memory", "sqlite", "redis":
	default:
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("unknown cache driver: %s", c.Cache.Driver))
	}

	if _, ok := c.Vision[c.Selected.Vision]; !ok {
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("selected vision provider %q not configured", c.Selected.Vision))
	}
	if _, ok := c.Reasoning[c.Selected.Reasoning]; !ok {
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("selected reasoning provider %q not configured", c.Selected.Reasoning))
	}
	if c.Selected.Speech != "" {
		if _, ok := c.Speech[c.Selected.Speech]; !ok {
			return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("selected speech provider %q not configured", c.Selected.Speech))
		}
	}
	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

// SelectedVision returns the configuration of the selected vision provider.
func (c *Config) SelectedVision() ProviderConfig {
	return c.Vision[c.Selected.Vision]
}

// SelectedReasoning returns the configuration of the selected reasoning provider.
func (c *Config) SelectedReasoning() ProviderConfig {
	return c.Reasoning[c.Selected.Reasoning]
}

// SelectedSpeech returns the selected speech provider and whether one is configured.
func (c *Config) SelectedSpeech() (SpeechConfig, bool) {
	if c.Selected.Speech == "" {
		return SpeechConfig{}, false
	}
	s, ok := c.Speech[c.Selected.Speech]
	return s, ok
}
