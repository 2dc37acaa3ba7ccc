package mail

import (
	"context"
	"fmt"
)

// Message is one outbound email. Bodies are plain text.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers outbound mail through the configured relay. Send failures
// after a committed state transition are logged by callers, never rolled back.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Loader creates a Mailer from config carried in ctx.
type Loader func(ctx context.Context) (Mailer, error)

// Plugin represents a mailer plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a mailer plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered mailer plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named mailer plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown mailer %q; valid: %v", name, Names())
}
