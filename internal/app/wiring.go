// Package app assembles the runtime components from configuration. Both the
// server and the CLI build their dependencies through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/songbird-terrace/waivers/internal/backup"
	"github.com/songbird-terrace/waivers/internal/cloud"
	"github.com/songbird-terrace/waivers/internal/config"
	"github.com/songbird-terrace/waivers/internal/mailer"
	"github.com/songbird-terrace/waivers/internal/render"
	"github.com/songbird-terrace/waivers/internal/staging"
	"github.com/songbird-terrace/waivers/internal/store"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Components is everything built from configuration.
type Components struct {
	Renderer *render.Renderer
	// Pipeline runs every configured channel after a signature.
	Pipeline *backup.Pipeline
	// RetryPipeline only holds channels safe to repeat (drive).
	RetryPipeline *backup.Pipeline
	Stager        *staging.Service
	Local         *cloud.Local
	closers       []func() error
}

// Close releases clients opened during Build.
func (c *Components) Close() error {
	var first error
	for _, fn := range c.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Credentials converts config into cloud credentials.
func Credentials(cfg *config.Config) cloud.Credentials {
	return cloud.Credentials{
		ClientEmail:  cfg.Google.ClientEmail,
		PrivateKey:   cfg.Google.PrivateKey,
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RefreshToken: cfg.Google.RefreshToken,
	}
}

// NewRenderer builds the document renderer from config.
func NewRenderer(cfg *config.Config) (*render.Renderer, error) {
	loc, err := time.LoadLocation(cfg.Document.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Document.Timezone, err)
	}
	opts := render.DefaultOptions()
	opts.Location = loc
	opts.Caption = cfg.Document.Caption
	return render.New(opts), nil
}

// Build creates the renderer, backup pipelines and staging service.
func Build(ctx context.Context, cfg *config.Config, repo store.Repository) (*Components, error) {
	renderer, err := NewRenderer(cfg)
	if err != nil {
		return nil, err
	}
	c := &Components{Renderer: renderer}
	creds := Credentials(cfg)

	var driveClient *cloud.Drive
	if creds.Configured() {
		ts, err := creds.TokenSource(ctx, drive.DriveFileScope)
		if err != nil {
			return nil, fmt.Errorf("drive credentials: %w", err)
		}
		driveClient, err = cloud.NewDrive(ctx, ts, cfg.Google.DriveFolderID, cfg.Google.DriveFolder)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Warn("Google credentials not configured, drive backup disabled")
	}

	var channels []backup.Channel
	sender, err := newSender(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	if sender != nil {
		channels = append(channels, backup.NewEmailChannel(sender, cfg.Mail.Recipient))
	} else {
		slog.Warn("Mail not configured, email backup disabled")
	}

	var retry []backup.Channel
	if driveClient != nil {
		ch := backup.NewDriveChannel(driveClient, repo)
		channels = append(channels, ch)
		retry = append(retry, ch)
	}
	c.Pipeline = backup.NewPipeline(renderer, channels...)
	c.RetryPipeline = backup.NewPipeline(renderer, retry...)

	publisher, err := c.newPublisher(ctx, cfg, creds, driveClient)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Stager = staging.NewService(repo, renderer, publisher)

	slog.Info("Components ready",
		"backup_channels", c.Pipeline.Channels(),
		"staging", cfg.Staging.Backend)
	return c, nil
}

// newSender picks the Gmail API when OAuth user credentials exist, then the
// SMTP relay with an app password, else nil.
func newSender(ctx context.Context, cfg *config.Config, creds cloud.Credentials) (mailer.Sender, error) {
	from := mailer.From{Name: cfg.Mail.FromName, Address: cfg.Mail.User}
	if creds.HasOAuth() && cfg.Mail.User != "" && cfg.Mail.Recipient != "" {
		ts, err := creds.TokenSource(ctx, gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("gmail credentials: %w", err)
		}
		return mailer.NewGmailSender(ctx, ts, from)
	}
	if cfg.HasSMTP() {
		return mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.User,
			Password: cfg.Mail.AppPassword,
			FromName: cfg.Mail.FromName,
		})
	}
	return nil, nil
}

func (c *Components) newPublisher(ctx context.Context, cfg *config.Config, creds cloud.Credentials, driveClient *cloud.Drive) (staging.Publisher, error) {
	switch cfg.Staging.Backend {
	case config.StagingDrive:
		if driveClient == nil {
			return nil, fmt.Errorf("drive staging requires Google credentials")
		}
		return driveClient, nil
	case config.StagingGCS:
		var opts []option.ClientOption
		if creds.Configured() {
			ts, err := creds.TokenSource(ctx, storage.ScopeReadWrite)
			if err != nil {
				return nil, fmt.Errorf("storage credentials: %w", err)
			}
			opts = append(opts, option.WithTokenSource(ts))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		c.closers = append(c.closers, client.Close)

		gcsOpts := cloud.GCSOptions{Bucket: cfg.Staging.Bucket, TTL: cfg.Staging.URLTTL}
		if creds.HasServiceAccount() {
			gcsOpts.GoogleAccessID = creds.ClientEmail
			gcsOpts.PrivateKey = creds.NormalizedKey()
		}
		return cloud.NewGCS(client, gcsOpts), nil
	default:
		c.Local = cloud.NewLocal(cfg.Staging.Dir, cfg.BaseURL)
		return c.Local, nil
	}
}
