package provider

import (
	"context"
	"sort"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
)

// Message is a rendered message ready for a provider. DLT is set for templates
// registered with a DLT-regulated SMS provider.
type Message struct {
	CorrelationID string
	Recipient     string
	Subject       string
	Body          string
	TemplateCode  string
	DLT           *catalog.DLTTemplate
	Variables     map[string]any
}

type Receipt struct {
	MessageID string
}

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// BalanceChecker is implemented by prepaid providers.
type BalanceChecker interface {
	CheckBalance(ctx context.Context) (float64, error)
}

// HealthChecker is implemented by providers that can probe their own availability.
type HealthChecker interface {
	CheckHealth(ctx context.Context) bool
}

// Registry selects a provider by name.
type Registry map[string]Provider

func NewRegistry(providers ...Provider) Registry {
	registry := make(Registry, len(providers))
	for _, p := range providers {
		registry[p.Name()] = p
	}

	return registry
}

func (r Registry) Get(name string) (Provider, bool) {
	p, ok := r[name]

	return p, ok
}

func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
