package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Assistant AssistantConfig `json:"assistant"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Session   SessionConfig   `json:"session"`
	Voice     VoiceConfig     `json:"voice"`
	Tools     ToolsConfig     `json:"tools"`
	Channels  ChannelsConfig  `json:"channels"`
	Log       LogConfig       `json:"log"`
}

type AssistantConfig struct {
	Provider      string  `json:"provider" env:"CALBOT_ASSISTANT_PROVIDER"`
	Model         string  `json:"model" env:"CALBOT_ASSISTANT_MODEL"`
	MaxTokens     int     `json:"max_tokens" env:"CALBOT_ASSISTANT_MAX_TOKENS"`
	Temperature   float64 `json:"temperature" env:"CALBOT_ASSISTANT_TEMPERATURE"`
	MaxIterations int     `json:"max_iterations" env:"CALBOT_ASSISTANT_MAX_ITERATIONS"`
	Timezone      string  `json:"timezone" env:"CALBOT_ASSISTANT_TIMEZONE"`
	EnablePlan    bool    `json:"enable_plan" env:"CALBOT_ASSISTANT_ENABLE_PLAN"`
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai" envPrefix:"CALBOT_PROVIDERS_OPENAI_"`
	OpenRouter ProviderConfig `json:"openrouter" envPrefix:"CALBOT_PROVIDERS_OPENROUTER_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"PROXY"`
}

type GatewayConfig struct {
	Host           string   `json:"host" env:"CALBOT_GATEWAY_HOST"`
	Port           int      `json:"port" env:"CALBOT_GATEWAY_PORT"`
	AllowedOrigins []string `json:"allowed_origins" env:"CALBOT_GATEWAY_ALLOWED_ORIGINS"`
}

type SessionConfig struct {
	// Store selects the backing store: memory, sqlite, or redis.
	Store         string `json:"store" env:"CALBOT_SESSION_STORE"`
	SQLitePath    string `json:"sqlite_path" env:"CALBOT_SESSION_SQLITE_PATH"`
	RedisAddr     string `json:"redis_addr" env:"CALBOT_SESSION_REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"CALBOT_SESSION_REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"CALBOT_SESSION_REDIS_DB"`
	TTLMinutes    int    `json:"ttl_minutes" env:"CALBOT_SESSION_TTL_MINUTES"`
}

type VoiceConfig struct {
	PollIntervalSeconds int    `json:"poll_interval_seconds" env:"CALBOT_VOICE_POLL_INTERVAL_SECONDS"`
	MaxPolls            int    `json:"max_polls" env:"CALBOT_VOICE_MAX_POLLS"`
	DefaultRegion       string `json:"default_region" env:"CALBOT_VOICE_DEFAULT_REGION"`
	DefaultTarget       string `json:"default_target" env:"CALBOT_VOICE_DEFAULT_TARGET"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled" env:"CALBOT_TOOLS_WEB_BRAVE_ENABLED"`
	APIKey     string `json:"api_key" env:"CALBOT_TOOLS_WEB_BRAVE_API_KEY"`
	MaxResults int    `json:"max_results" env:"CALBOT_TOOLS_WEB_BRAVE_MAX_RESULTS"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled" env:"CALBOT_TOOLS_WEB_DUCKDUCKGO_ENABLED"`
	MaxResults int  `json:"max_results" env:"CALBOT_TOOLS_WEB_DUCKDUCKGO_MAX_RESULTS"`
}

type WebToolsConfig struct {
	Brave      BraveConfig      `json:"brave"`
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
}

type ToolsConfig struct {
	Web WebToolsConfig `json:"web"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string   `json:"token" env:"CALBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"CALBOT_CHANNELS_DISCORD_ALLOW_FROM"`
}

type LogConfig struct {
	Level string `json:"level" env:"CALBOT_LOG_LEVEL"`
	JSON  bool   `json:"json" env:"CALBOT_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Assistant: AssistantConfig{
			Provider:      "openai",
			Model:         "gpt-5-mini",
			MaxTokens:     4096,
			Temperature:   0.4,
			MaxIterations: 5,
			Timezone:      "Local",
			EnablePlan:    true,
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           8721,
			AllowedOrigins: []string{"*"},
		},
		Session: SessionConfig{
			Store:      "memory",
			SQLitePath: "calbot-sessions.db",
			RedisAddr:  "localhost:6379",
			TTLMinutes: 720,
		},
		Voice: VoiceConfig{
			PollIntervalSeconds: 5,
			MaxPolls:            60,
			DefaultRegion:       "US",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				Brave:      BraveConfig{Enabled: false, MaxResults: 5},
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig layers a JSON config file (if present) and environment
// variables over the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
