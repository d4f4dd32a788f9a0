package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds relay settings. Gmail with an app password is the usual
// setup: smtp.gmail.com on 587 with STARTTLS.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
}

// SMTPSender sends through an authenticated SMTP relay.
type SMTPSender struct {
	client *mail.Client
	from   From
}

// NewSMTPSender creates a sender. The connection is opened per message.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPSender{
		client: client,
		from:   From{Name: cfg.FromName, Address: cfg.Username},
	}, nil
}

// Send delivers the message.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	m, err := Build(s.from, msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
