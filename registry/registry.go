// Package registry advertises this provider's endpoints to a discovery
// service so consumers can find them.
package registry

import (
	"context"
)

// TypeProvider is the only batch type a provider publishes.
const TypeProvider = "provider"

// Service is one published endpoint: the interface and its encoded URL.
type Service struct {
	Interface string
	URL       string
}

// Batch is everything published in one call.
type Batch struct {
	Type     string
	Services []Service
}

// Registry is the transport to the discovery service.
type Registry interface {
	Publish(ctx context.Context, batch Batch) error
	Unpublish(ctx context.Context, batch Batch) error
}

// Func adapts a publish function to a Registry. Unpublish is a no-op; the
// discovery service is expected to expire stale entries on its own.
type Func func(ctx context.Context, batch Batch) error

func (f Func) Publish(ctx context.Context, batch Batch) error { return f(ctx, batch) }

func (f Func) Unpublish(context.Context, Batch) error { return nil }
