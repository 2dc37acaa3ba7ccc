// Package logmail is a development mail sink: messages are logged instead of
// delivered. Tests use Sent to observe outbound mail (including the
// one-shot token and Vendor Secret emissions).
package logmail

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	registrymail "github.com/chirino/vault-service/internal/registry/mail"
)

func init() {
	registrymail.Register(registrymail.Plugin{
		Name: "log",
		Loader: func(_ context.Context) (registrymail.Mailer, error) {
			return New(), nil
		},
	})
}

// New returns a fresh log mailer.
func New() *LogMailer {
	return &LogMailer{}
}

type LogMailer struct {
	mu   sync.Mutex
	sent []registrymail.Message
}

func (m *LogMailer) Send(_ context.Context, msg registrymail.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	log.Info("Outbound mail (log sink)", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Sent returns a copy of every message delivered so far.
func (m *LogMailer) Sent() []registrymail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]registrymail.Message(nil), m.sent...)
}
