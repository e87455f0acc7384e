package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"mini-dubbo/service"
)

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Application string
	Logger      *zap.Logger
	// OnError receives every publish or unpublish failure.
	OnError func(error)
}

// Publisher turns the routing table into provider URLs and hands them to the
// registry transport.
type Publisher struct {
	registry    Registry
	application string
	log         *zap.Logger
	onError     func(error)
	pid         int
	now         func() time.Time

	mu        sync.Mutex
	published *Batch // Last batch accepted by the registry
}

func NewPublisher(reg Registry, opts PublisherOptions) *Publisher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		registry:    reg,
		application: opts.Application,
		log:         log,
		onError:     opts.OnError,
		pid:         os.Getpid(),
		now:         time.Now,
	}
}

// Batch builds the provider batch for every descriptor served at host:port.
func (p *Publisher) Batch(host string, port int, descriptors []*service.Descriptor) Batch {
	ts := p.now()
	batch := Batch{Type: TypeProvider, Services: make([]Service, 0, len(descriptors))}
	for _, d := range descriptors {
		u := NewProviderURL(host, port, d)
		u.Application = p.application
		u.PID = p.pid
		u.Timestamp = ts
		batch.Services = append(batch.Services, Service{Interface: d.Interface, URL: u.Encoded()})
	}
	return batch
}

// Publish publishes all descriptors in one registry call. Failures are logged
// and reported to OnError before being returned.
func (p *Publisher) Publish(ctx context.Context, host string, port int, descriptors []*service.Descriptor) error {
	if p.registry == nil {
		return nil
	}
	batch := p.Batch(host, port, descriptors)
	if err := p.registry.Publish(ctx, batch); err != nil {
		err = fmt.Errorf("publish %d services: %w", len(batch.Services), err)
		p.report(err)
		return err
	}

	p.mu.Lock()
	p.published = &batch
	p.mu.Unlock()
	for _, s := range batch.Services {
		p.log.Info("published provider", zap.String("interface", s.Interface), zap.String("url", s.URL))
	}
	return nil
}

// Unpublish withdraws the last published batch. It is a no-op when nothing
// was published.
func (p *Publisher) Unpublish(ctx context.Context) error {
	p.mu.Lock()
	batch := p.published
	p.published = nil
	p.mu.Unlock()
	if batch == nil || p.registry == nil {
		return nil
	}
	if err := p.registry.Unpublish(ctx, *batch); err != nil {
		err = fmt.Errorf("unpublish %d services: %w", len(batch.Services), err)
		p.report(err)
		return err
	}
	p.log.Info("unpublished providers", zap.Int("count", len(batch.Services)))
	return nil
}

func (p *Publisher) report(err error) {
	p.log.Error("registry failure", zap.Error(err))
	if p.onError != nil {
		p.onError(err)
	}
}
