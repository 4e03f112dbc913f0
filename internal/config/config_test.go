package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultRedisURL, cfg.Redis.URL)
	assert.Equal(t, DefaultJWTExpiresIn, cfg.Auth.JWTExpiresIn)
	assert.Equal(t, DefaultRateLimit, cfg.Pipeline.RateLimitPerMinute)
	assert.Equal(t, DefaultDedupTTL, cfg.Pipeline.DedupTTLSeconds)
	assert.Equal(t, DefaultHistoryWindow, cfg.Pipeline.HistoryWindow)
	assert.Empty(t, cfg.Regions)
}

func TestLoadAppliesRegionDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[admin]
username = "admin"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"

[auth]
jwt_secret = "secret"

[[regions]]
name = "emea"
system_prompt = "You answer for a bakery."

[regions.whatsapp]
verify_token = "verify-me"
app_secret = "app-secret"
access_token = "access-token"
phone_number_id = "1055512345"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Regions, 1)

	region := cfg.Regions[0]
	assert.Equal(t, "emea", region.Name)
	assert.Equal(t, DefaultFallbackReply, region.FallbackReply)
	assert.Equal(t, DefaultKnowledgeText, region.KnowledgeDefault)
	require.NotNil(t, region.WhatsApp)
	assert.Equal(t, DefaultGraphBaseURL, region.WhatsApp.GraphBaseURL)
	assert.Nil(t, region.Telegram)
}

func TestLoadOverridesPipelineLimits(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[pipeline]
rate_limit_per_minute = 3
history_window = 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pipeline.RateLimitPerMinute)
	assert.Equal(t, 6, cfg.Pipeline.HistoryWindow)
	assert.Equal(t, DefaultDedupTTL, cfg.Pipeline.DedupTTLSeconds, "untouched limits keep their defaults")
}

func TestValidateRequiresAdminAndRegions(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate(), "defaults alone are not a runnable config")

	cfg.Admin = AdminConfig{Username: "admin", PasswordHash: "$2a$10$abcdefghijklmnopqrstuv"}
	cfg.Auth.JWTSecret = "secret"
	cfg.Regions = []RegionConfig{{Name: "emea"}}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsIncompleteChannelConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	cfg.Admin = AdminConfig{Username: "admin", PasswordHash: "hash"}
	cfg.Auth.JWTSecret = "secret"
	cfg.Regions = []RegionConfig{{
		Name:     "emea",
		Telegram: &TelegramConfig{BotToken: "123:token"}, // webhook_secret missing
	}}
	assert.Error(t, cfg.Validate())
}

func TestRegionLookup(t *testing.T) {
	t.Parallel()

	cfg := Config{Regions: []RegionConfig{{Name: "emea"}, {Name: "apac"}}}

	region, ok := cfg.Region("apac")
	assert.True(t, ok)
	assert.Equal(t, "apac", region.Name)

	_, ok = cfg.Region("mars")
	assert.False(t, ok)
}
