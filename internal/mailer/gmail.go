package mailer

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailSender sends through the Gmail API as the authorized user.
type GmailSender struct {
	svc  *gmail.Service
	from From
}

// NewGmailSender creates a sender authorized by the token source.
func NewGmailSender(ctx context.Context, ts oauth2.TokenSource, from From) (*GmailSender, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGmailSenderWithService(svc, from), nil
}

// NewGmailSenderWithService wraps an existing service client.
func NewGmailSenderWithService(svc *gmail.Service, from From) *GmailSender {
	return &GmailSender{svc: svc, from: from}
}

// Send delivers the message.
func (g *GmailSender) Send(ctx context.Context, msg *Message) error {
	raw, err := Raw(g.from, msg)
	if err != nil {
		return err
	}
	_, err = g.svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}
