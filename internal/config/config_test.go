package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STAGING_BACKEND", "local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/waivers.db", cfg.DatabaseURL)
	assert.Equal(t, 587, cfg.Mail.SMTPPort)
	assert.Equal(t, 2*time.Minute, cfg.Backup.Timeout)
	assert.True(t, cfg.Backup.SweepEnabled)
	assert.Equal(t, "America/Los_Angeles", cfg.Document.Timezone)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BASE_URL", "https://waivers.example/")
	t.Setenv("GMAIL_USER", "bot@example.com")
	t.Setenv("GMAIL_APP_PASSWORD", "app-pass")
	t.Setenv("BACKUP_TIMEOUT", "45s")
	t.Setenv("BACKUP_SWEEP_ENABLED", "off")
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("STAGING_BACKEND", "local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://waivers.example", cfg.BaseURL)
	assert.Equal(t, "bot@example.com", cfg.Mail.Recipient)
	assert.True(t, cfg.HasSMTP())
	assert.Equal(t, 45*time.Second, cfg.Backup.Timeout)
	assert.False(t, cfg.Backup.SweepEnabled)
	assert.Equal(t, 587, cfg.Mail.SMTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:        "8080",
			DatabaseURL: "./data/waivers.db",
			Staging:     StagingConfig{Backend: StagingLocal, Dir: "./data/downloads", URLTTL: time.Minute},
			Backup:      BackupConfig{Timeout: time.Minute},
			Document:    DocumentConfig{Timezone: "UTC"},
		}
	}
	require.NoError(t, base().Validate())

	tests := map[string]func(c *Config){
		"empty port":         func(c *Config) { c.Port = "" },
		"unknown backend":    func(c *Config) { c.Staging.Backend = "ftp" },
		"gcs without bucket": func(c *Config) { c.Staging.Backend = StagingGCS },
		"drive without auth": func(c *Config) { c.Staging.Backend = StagingDrive },
		"ttl too long":       func(c *Config) { c.Staging.URLTTL = 8 * 24 * time.Hour },
		"bad timezone":       func(c *Config) { c.Document.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCredentialPriority(t *testing.T) {
	c := &Config{Google: GoogleConfig{ClientEmail: "sa@x", PrivateKey: "k"}}
	assert.False(t, c.HasOAuth())
	assert.True(t, c.HasGoogleCredentials())

	c.Google.ClientID, c.Google.ClientSecret, c.Google.RefreshToken = "id", "secret", "rt"
	assert.True(t, c.HasOAuth())
}
