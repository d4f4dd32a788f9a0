package backup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/songbird-terrace/waivers/internal/cloud"
	"github.com/songbird-terrace/waivers/internal/mailer"
	"github.com/songbird-terrace/waivers/internal/store"
)

// EmailChannel mails the PDF to the operator mailbox.
type EmailChannel struct {
	sender    mailer.Sender
	recipient string
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(sender mailer.Sender, recipient string) *EmailChannel {
	return &EmailChannel{sender: sender, recipient: recipient}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return "email" }

// Deliver implements Channel.
func (c *EmailChannel) Deliver(ctx context.Context, doc *Document) error {
	a := doc.Agreement
	msg := &mailer.Message{
		To:      []string{c.recipient},
		Subject: "[Waiver Signed] " + a.CustomerName,
		Body: fmt.Sprintf("A new waiver has been signed by %s (%s).\n\nThe PDF is attached to this email.",
			a.CustomerName, a.CustomerEmail),
		Attachments: []mailer.Attachment{{
			Filename:    doc.Filename,
			ContentType: "application/pdf",
			Data:        doc.Data,
		}},
	}
	return c.sender.Send(ctx, msg)
}

// Uploader stores a file in the cloud drive.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (*cloud.File, error)
}

// DriveChannel uploads the PDF and caches its link on the agreement.
type DriveChannel struct {
	uploader Uploader
	repo     store.Repository
	logger   *slog.Logger
}

// NewDriveChannel creates a drive channel. repo may be nil to skip the link
// write-back.
func NewDriveChannel(uploader Uploader, repo store.Repository) *DriveChannel {
	return &DriveChannel{
		uploader: uploader,
		repo:     repo,
		logger:   slog.With("component", "backup", "channel", "drive"),
	}
}

// Name implements Channel.
func (c *DriveChannel) Name() string { return "drive" }

// Deliver implements Channel. A failed link write-back is logged but does
// not fail the channel: the file is already stored.
func (c *DriveChannel) Deliver(ctx context.Context, doc *Document) error {
	f, err := c.uploader.Upload(ctx, doc.Filename, doc.Data)
	if err != nil {
		return err
	}
	if c.repo == nil || f.WebViewLink == "" {
		return nil
	}
	if err := store.SetPDFURLWithRetry(ctx, c.repo, doc.Agreement.ID, f.WebViewLink); err != nil {
		c.logger.Warn("Failed to record document link",
			"agreement_id", doc.Agreement.ID,
			"file_id", f.ID,
			"error", err)
	}
	return nil
}
