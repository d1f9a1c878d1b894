package external

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"feedbackgate/internal/types"

	"gopkg.in/gomail.v2"
)

// SMTPClientConfig holds the configuration for creating an SMTPClient.
type SMTPClientConfig struct {
	Host     string
	Port     int
	Username string
	Password types.SecretString
	Logger   *slog.Logger
}

// SMTPClient implements EmailProvider over plain SMTP using gomail. Template
// IDs are ignored; the plain-text rendition in SendInput is always sent.
type SMTPClient struct {
	dialer *gomail.Dialer
	host   string
	logger *slog.Logger

	// send delivers a composed message; replaced in tests.
	send func(d *gomail.Dialer, m *gomail.Message) error
}

// NewSMTPClient creates an SMTPClient. A new connection is dialed per
// message; lifecycle notifications are low volume.
func NewSMTPClient(cfg SMTPClientConfig) *SMTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password.Unmask())
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	return &SMTPClient{
		dialer: d,
		host:   cfg.Host,
		logger: logger,
		send: func(d *gomail.Dialer, m *gomail.Message) error {
			return d.DialAndSend(m)
		},
	}
}

// Send composes and delivers the message. gomail has no context support, so
// the dial runs in a goroutine and Send returns early with upstream_timeout
// when ctx expires; the abandoned dial is bounded by the dialer's own timeout.
func (c *SMTPClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", input.From.Address, input.From.Name)
	m.SetHeader("To", input.To)
	m.SetHeader("Subject", input.Subject)
	m.SetBody("text/plain", input.BodyText)

	msgID := ""
	if input.ReferenceID != "" {
		msgID = fmt.Sprintf("<%s@%s>", input.ReferenceID, c.host)
		m.SetHeader("Message-ID", msgID)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.send(c.dialer, m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", types.NewAppError(
				types.ErrCodeUpstreamEmailProvider,
				fmt.Sprintf("Send: SMTP delivery via %s failed", c.host),
				err,
			)
		}
		return msgID, nil
	case <-ctx.Done():
		return "", types.NewAppError(
			types.ErrCodeUpstreamTimeout,
			"Send: SMTP delivery did not complete before deadline",
			ctx.Err(),
		)
	}
}

// Compile-time assertion that SMTPClient satisfies EmailProvider.
var _ EmailProvider = (*SMTPClient)(nil)
