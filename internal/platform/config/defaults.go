package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "glass-server",
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled: true,
			IP:      "0.0.0.0",
			Port:    8080,
			JWT: JWTConfig{
				Enabled: false,
				Issuer:  "glass-server",
				Expiry:  24 * time.Hour,
			},
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled: true,
				IP:      "0.0.0.0",
				Port:    8000,
			},
			MQTT: MQTTConfig{
				Enabled:        false,
				Broker:         "tcp://127.0.0.1:1883",
				ClientID:       "glass-server",
				TopicPrefix:    "glass",
				DeviceID:       "+",
				QoS:            1,
				ConnectTimeout: 10 * time.Second,
			},
		},
		Capture: CaptureConfig{
			Cooldown: 2 * time.Second,
		},
		Image: ImageSecurityConfig{
			MaxFileSize:    5 * 1024 * 1024,
			MaxPixels:      16 * 1024 * 1024,
			MaxWidth:       4096,
			MaxHeight:      4096,
			AllowedFormats: []string{"jpeg", "jpg", "png", "webp"},
			EnableDeepScan: true,
		},
		Agent: AgentConfig{
			FallbackAnswer: "Sorry, something went wrong while answering.",
			SpeakAnswers:   false,
			StartListening: true,
		},
		Cache: CacheConfig{
			Driver:  "memory",
			TTL:     24 * time.Hour,
			Cleanup: 10 * time.Minute,
			SQLite:  CacheSQLiteStore{DSN: "data/glass.db"},
			Redis:   CacheRedisStore{Addr: "127.0.0.1:6379", Prefix: "glass:desc:"},
		},
		MCP: MCPConfig{
			Enabled: false,
			Addr:    ":8090",
			BaseURL: "http://127.0.0.1:8090",
		},
		Selected: SelectedConfig{
			Vision:    "OpenAIVision",
			Reasoning: "OpenAIReasoning",
			Speech:    "EdgeTTS",
		},
		Vision: map[string]ProviderConfig{
			"OpenAIVision": {
				Type:      "openai",
				ModelName: "gpt-4o-mini",
				BaseURL:   "https://api.openai.com/v1",
				Prompt:    "Describe this photo taken by a wearable camera in detail. Mention people, objects, text and the setting.",
				MaxTokens: 500,
				Timeout:   60 * time.Second,
			},
			"OllamaVision": {
				Type:      "ollama",
				ModelName: "llava",
				BaseURL:   "http://127.0.0.1:11434",
				Prompt:    "Describe this photo taken by a wearable camera in detail.",
				Timeout:   120 * time.Second,
			},
		},
		Reasoning: map[string]ProviderConfig{
			"OpenAIReasoning": {
				Type:        "openai",
				ModelName:   "gpt-4o-mini",
				BaseURL:     "https://api.openai.com/v1",
				Prompt:      "You answer questions about what the wearer of a camera has seen. Use only the image descriptions provided as context. Be brief.",
				Temperature: 0.2,
				MaxTokens:   300,
				Timeout:     60 * time.Second,
			},
			"OllamaReasoning": {
				Type:      "ollama",
				ModelName: "llama3.1",
				BaseURL:   "http://127.0.0.1:11434",
				Prompt:    "You answer questions about what the wearer of a camera has seen. Be brief.",
				Timeout:   120 * time.Second,
			},
		},
		Speech: map[string]SpeechConfig{
			"EdgeTTS": {
				Type:  "edge",
				Voice: "en-US-AriaNeural",
			},
		},
	}
}
