// Package sender implements the outbound send capability behind the
// engine's Sender interface. Each configured provider is one mailbox; the
// registry routes a send to the adapter registered under the provider id.
//
// Adapters:
//   - smtp.go: plain SMTP submission via gomail
//   - ses.go:  AWS SES v2 API
package sender

import (
	"context"
	"fmt"
	"sync"

	"github.com/reachforge/outreach-engine/internal/config"
	"github.com/reachforge/outreach-engine/internal/engine"
)

// ProviderSender is one configured mailbox adapter.
type ProviderSender interface {
	Send(ctx context.Context, toEmail, subject, htmlBody string) error
}

// Registry maps provider ids to their adapters and satisfies engine.Sender.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderSender
}

// NewRegistry builds a registry from provider configuration. Unknown
// provider types were already rejected by config validation.
func NewRegistry(providers []config.ProviderConfig) (*Registry, error) {
	r := &Registry{providers: make(map[string]ProviderSender, len(providers))}
	for _, pc := range providers {
		switch pc.Type {
		case "smtp":
			r.providers[pc.ID] = NewSMTPSender(pc)
		case "ses":
			s, err := NewSESSender(pc)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
			}
			r.providers[pc.ID] = s
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", pc.ID, pc.Type)
		}
	}
	return r, nil
}

// Register adds or replaces a provider adapter. Mainly for tests.
func (r *Registry) Register(id string, s ProviderSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = s
}

// Send routes to the adapter registered under providerID.
func (r *Registry) Send(ctx context.Context, providerID, toEmail, subject, htmlBody string) error {
	r.mu.RLock()
	p, ok := r.providers[providerID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("provider %q: %w", providerID, engine.ErrUnknownProvider)
	}
	return p.Send(ctx, toEmail, subject, htmlBody)
}
