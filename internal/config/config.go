// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Staging backends.
const (
	StagingLocal = "local"
	StagingDrive = "drive"
	StagingGCS   = "gcs"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	BaseURL        string
	DatabaseURL    string
	AllowedOrigins []string

	Mail     MailConfig
	Google   GoogleConfig
	Staging  StagingConfig
	Backup   BackupConfig
	Document DocumentConfig
}

// MailConfig controls the operator email channel.
type MailConfig struct {
	User        string
	AppPassword string
	SMTPHost    string
	SMTPPort    int
	Recipient   string
	FromName    string
}

// GoogleConfig holds Google identities and the drive folder.
type GoogleConfig struct {
	ClientEmail   string
	PrivateKey    string
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	DriveFolderID string
	DriveFolder   string
}

// StagingConfig selects where on-demand downloads are published.
type StagingConfig struct {
	Backend string
	Bucket  string
	URLTTL  time.Duration
	Dir     string
}

// BackupConfig tunes the detached backup runs and the sweeper.
type BackupConfig struct {
	Timeout       time.Duration
	SweepEnabled  bool
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

// DocumentConfig tunes rendered documents.
type DocumentConfig struct {
	Timezone string
	Caption  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", ""), "/"),
		DatabaseURL:    getEnv("DATABASE_URL", "./data/waivers.db"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", nil),
		Mail: MailConfig{
			User:        getEnv("GMAIL_USER", ""),
			AppPassword: getEnv("GMAIL_APP_PASSWORD", ""),
			SMTPHost:    getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			FromName:    getEnv("MAIL_FROM_NAME", "Songbird Waiver Bot"),
		},
		Google: GoogleConfig{
			ClientEmail:   getEnv("GOOGLE_CLIENT_EMAIL", ""),
			PrivateKey:    getEnv("GOOGLE_PRIVATE_KEY", ""),
			ClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken:  getEnv("GOOGLE_REFRESH_TOKEN", ""),
			DriveFolderID: getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),
			DriveFolder:   getEnv("DRIVE_FOLDER_NAME", "SongBird-Waivers"),
		},
		Staging: StagingConfig{
			Backend: strings.ToLower(getEnv("STAGING_BACKEND", StagingLocal)),
			Bucket:  getEnv("STAGING_BUCKET", ""),
			URLTTL:  getEnvDuration("STAGING_URL_TTL", 15*time.Minute),
			Dir:     getEnv("STAGING_DIR", "./data/downloads"),
		},
		Backup: BackupConfig{
			Timeout:       getEnvDuration("BACKUP_TIMEOUT", 2*time.Minute),
			SweepEnabled:  getEnvBool("BACKUP_SWEEP_ENABLED", true),
			SweepInterval: getEnvDuration("BACKUP_SWEEP_INTERVAL", 10*time.Minute),
			SweepGrace:    getEnvDuration("BACKUP_SWEEP_GRACE", 15*time.Minute),
		},
		Document: DocumentConfig{
			Timezone: getEnv("DOCUMENT_TIMEZONE", "America/Los_Angeles"),
			Caption:  getEnv("DOCUMENT_CAPTION", "Digitally signed via Songbird Terrace"),
		},
	}
	cfg.Mail.Recipient = getEnv("BACKUP_RECIPIENT", cfg.Mail.User)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}
	switch c.Staging.Backend {
	case StagingLocal:
		if c.Staging.Dir == "" {
			return fmt.Errorf("STAGING_DIR cannot be empty")
		}
	case StagingDrive:
		if !c.HasGoogleCredentials() {
			return fmt.Errorf("STAGING_BACKEND=drive requires Google credentials")
		}
	case StagingGCS:
		if c.Staging.Bucket == "" {
			return fmt.Errorf("STAGING_BACKEND=gcs requires STAGING_BUCKET")
		}
	default:
		return fmt.Errorf("unknown STAGING_BACKEND %q", c.Staging.Backend)
	}
	if c.Staging.URLTTL <= 0 || c.Staging.URLTTL > 7*24*time.Hour {
		return fmt.Errorf("STAGING_URL_TTL must be between 0 and 168h")
	}
	if c.Backup.Timeout <= 0 {
		return fmt.Errorf("BACKUP_TIMEOUT must be > 0")
	}
	if c.Backup.SweepInterval < 0 || c.Backup.SweepGrace < 0 {
		return fmt.Errorf("BACKUP_SWEEP_INTERVAL and BACKUP_SWEEP_GRACE cannot be negative")
	}
	if _, err := time.LoadLocation(c.Document.Timezone); err != nil {
		return fmt.Errorf("DOCUMENT_TIMEZONE: %w", err)
	}
	return nil
}

// HasOAuth reports whether the three-part OAuth user credentials are set.
func (c *Config) HasOAuth() bool {
	g := c.Google
	return g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

// HasGoogleCredentials reports whether any Google identity is configured.
func (c *Config) HasGoogleCredentials() bool {
	return c.HasOAuth() || (c.Google.ClientEmail != "" && c.Google.PrivateKey != "")
}

// HasSMTP reports whether the app-password SMTP relay is usable.
func (c *Config) HasSMTP() bool {
	return c.Mail.User != "" && c.Mail.AppPassword != "" && c.Mail.Recipient != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.BaseURL == "" ||
		strings.Contains(c.BaseURL, "localhost") ||
		strings.Contains(c.BaseURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
