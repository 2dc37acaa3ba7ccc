// Package smtp delivers outbound mail through a plain SMTP relay. The relay
// itself is an external collaborator; this adapter only frames messages.
package smtp

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/chirino/vault-service/internal/config"
	registrymail "github.com/chirino/vault-service/internal/registry/mail"
)

func init() {
	registrymail.Register(registrymail.Plugin{
		Name:   "smtp",
		Loader: load,
	})
}

func load(ctx context.Context) (registrymail.Mailer, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.SMTPHost == "" {
		return nil, fmt.Errorf("smtp: SMTP_HOST is required")
	}
	if cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("smtp: SMTP_FROM is required")
	}
	m := &SMTPMailer{
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		from: cfg.SMTPFrom,
	}
	if cfg.SMTPUsername != "" {
		m.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return m, nil
}

type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

func (m *SMTPMailer) Send(_ context.Context, msg registrymail.Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp: send to %s: %w", msg.To, err)
	}
	return nil
}
