package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultRedisURL       = "redis://localhost:6379"
	DefaultJWTExpiresIn   = "24h"
	DefaultGraphBaseURL   = "https://graph.facebook.com/v19.0"
	DefaultFallbackReply  = "Sorry, we are unable to answer right now. A member of our team will get back to you shortly."
	DefaultKnowledgeText  = "No additional business context is available."
	DefaultRateLimit      = 10
	DefaultHistoryWindow  = 20
	DefaultHistoryCap     = 200
	DefaultRecentLogCap   = 100
	DefaultDedupTTL       = 600
	DefaultFreshness      = 300
	DefaultSessionTTL     = 24
	DefaultPollTimeout    = 5
	DefaultStatsRetention = 90
)

type Config struct {
	Log        LogConfig      `toml:"log"`
	Server     ServerConfig   `toml:"server"`
	Admin      AdminConfig    `toml:"admin"`
	Auth       AuthConfig     `toml:"auth"`
	Redis      RedisConfig    `toml:"redis"`
	Generation CollabConfig   `toml:"generation"`
	Knowledge  CollabConfig   `toml:"knowledge"`
	Pipeline   PipelineConfig `toml:"pipeline"`
	Regions    []RegionConfig `toml:"regions" validate:"min=1,dive"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username     string `toml:"username" validate:"required"`
	PasswordHash string `toml:"password_hash" validate:"required"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" validate:"required"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type RedisConfig struct {
	URL string `toml:"url"`
}

// CollabConfig points at an external HTTP collaborator (reply generation,
// knowledge lookup).
type CollabConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PipelineConfig holds the ingestion and processing limits shared by all regions.
type PipelineConfig struct {
	RateLimitPerMinute int `toml:"rate_limit_per_minute" validate:"min=1"`
	DedupTTLSeconds    int `toml:"dedup_ttl_seconds" validate:"min=1"`
	FreshnessSeconds   int `toml:"freshness_seconds" validate:"min=1"`
	HistoryWindow      int `toml:"history_window" validate:"min=1"`
	SessionTTLHours    int `toml:"session_ttl_hours" validate:"min=1"`
	HistoryCap         int `toml:"history_cap" validate:"min=1"`
	RecentLogCap       int `toml:"recent_log_cap" validate:"min=1"`
	PollTimeoutSeconds int `toml:"poll_timeout_seconds" validate:"min=1"`
	StatsRetentionDays int `toml:"stats_retention_days" validate:"min=1"`
}

// RegionConfig parametrizes one tenant pipeline: its channel set, prompts, and
// canned replies. All persisted state for the region is keyed by Name.
type RegionConfig struct {
	Name             string           `toml:"name" validate:"required"`
	SystemPrompt     string           `toml:"system_prompt"`
	FallbackReply    string           `toml:"fallback_reply"`
	KnowledgeDefault string           `toml:"knowledge_default"`
	WhatsApp         *WhatsAppConfig  `toml:"whatsapp"`
	Messenger        *MessengerConfig `toml:"messenger"`
	Telegram         *TelegramConfig  `toml:"telegram"`
	Discord          *DiscordConfig   `toml:"discord"`
}

type WhatsAppConfig struct {
	VerifyToken   string `toml:"verify_token" validate:"required"`
	AppSecret     string `toml:"app_secret" validate:"required"`
	AccessToken   string `toml:"access_token" validate:"required"`
	PhoneNumberID string `toml:"phone_number_id" validate:"required"`
	GraphBaseURL  string `toml:"graph_base_url"`
}

type MessengerConfig struct {
	VerifyToken     string `toml:"verify_token" validate:"required"`
	AppSecret       string `toml:"app_secret" validate:"required"`
	PageAccessToken string `toml:"page_access_token" validate:"required"`
	GraphBaseURL    string `toml:"graph_base_url"`
}

type TelegramConfig struct {
	BotToken      string `toml:"bot_token" validate:"required"`
	WebhookSecret string `toml:"webhook_secret" validate:"required"`
}

type DiscordConfig struct {
	BotToken     string `toml:"bot_token" validate:"required"`
	BridgeSecret string `toml:"bridge_secret" validate:"required"`
}

// Region returns the region config by name.
func (c Config) Region(name string) (RegionConfig, bool) {
	for _, r := range c.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return RegionConfig{}, false
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Redis: RedisConfig{
			URL: DefaultRedisURL,
		},
		Generation: CollabConfig{
			TimeoutSeconds: 60,
		},
		Knowledge: CollabConfig{
			TimeoutSeconds: 10,
		},
		Pipeline: PipelineConfig{
			RateLimitPerMinute: DefaultRateLimit,
			DedupTTLSeconds:    DefaultDedupTTL,
			FreshnessSeconds:   DefaultFreshness,
			HistoryWindow:      DefaultHistoryWindow,
			SessionTTLHours:    DefaultSessionTTL,
			HistoryCap:         DefaultHistoryCap,
			RecentLogCap:       DefaultRecentLogCap,
			PollTimeoutSeconds: DefaultPollTimeout,
			StatsRetentionDays: DefaultStatsRetention,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	for i := range cfg.Regions {
		applyRegionDefaults(&cfg.Regions[i])
	}

	return cfg, nil
}

func applyRegionDefaults(r *RegionConfig) {
	if r.FallbackReply == "" {
		r.FallbackReply = DefaultFallbackReply
	}
	if r.KnowledgeDefault == "" {
		r.KnowledgeDefault = DefaultKnowledgeText
	}
	if r.WhatsApp != nil && r.WhatsApp.GraphBaseURL == "" {
		r.WhatsApp.GraphBaseURL = DefaultGraphBaseURL
	}
	if r.Messenger != nil && r.Messenger.GraphBaseURL == "" {
		r.Messenger.GraphBaseURL = DefaultGraphBaseURL
	}
}

// Validate checks the loaded configuration before the server starts.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
