// Package server implements the provider engine.
//
// Request processing pipeline:
//
//	Start → retry.Machine binds the listener → publish providers to the registry
//	Accept conn → serveConn (one goroutine, frames handled in order)
//	  → heartbeat frame: heartbeat.Session, no response
//	  → request frame: codec.DecodeRequest → dispatch → middleware chain
//	    → service method → codec.EncodeResponse → write response
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"mini-dubbo/codec"
	"mini-dubbo/heartbeat"
	"mini-dubbo/middleware"
	"mini-dubbo/registry"
	"mini-dubbo/retry"
	"mini-dubbo/service"
)

// DefaultRetry is used when Config.Retry is nil.
var DefaultRetry = retry.Exponential{Base: 500 * time.Millisecond, Max: 10 * time.Second, MaxAttempts: 10}

const unpublishTimeout = 3 * time.Second

// Config is everything the server is built from.
type Config struct {
	// Registry receives the provider URLs once the listener is bound. Nil
	// disables publication.
	Registry registry.Registry
	// Services are registered in order; a later descriptor for the same
	// interface replaces an earlier one.
	Services []service.Descriptor

	Application string
	// Host is the advertised address. Empty selects the first non-loopback
	// IPv4 address of this machine.
	Host string
	// Port to bind. Zero picks a random port for every attempt.
	Port int
	// Serialization used for frames the server originates (heartbeats and
	// undecodable requests). Responses reuse the request's serialization.
	Serialization codec.CodecType

	Heartbeat heartbeat.Config
	Retry     retry.Policy
	Logger    *zap.Logger
	// OnError observes failures that do not belong to a single request, such
	// as registry publication errors.
	OnError func(error)
}

// Server is the RPC provider.
type Server struct {
	cfg       Config
	log       *zap.Logger
	table     *service.Table
	pipeline  middleware.Pipeline
	publisher *registry.Publisher
	retry     *retry.Machine
	codec     codec.Codec

	listen func(network, address string) (net.Listener, error)

	mu            sync.Mutex
	listener      net.Listener
	closed        bool
	startCancel   context.CancelFunc // Set while Start is binding
	startDone     chan struct{}      // Closed when that Start returns
	ctx           context.Context    // Cancelled by Close; parent of every connection
	cancel        context.CancelFunc
	publishCancel context.CancelFunc
	publishDone   chan struct{}

	wg sync.WaitGroup // Accept loop and connections
}

// New builds a server. Nothing is bound until Start.
func New(cfg Config) (*Server, error) {
	table, err := service.NewTable(cfg.Services...)
	if err != nil {
		return nil, err
	}
	if cfg.Serialization == 0 {
		cfg.Serialization = codec.CodecTypeJSON
	}
	cdc, err := codec.GetCodec(cfg.Serialization)
	if err != nil {
		return nil, err
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetry
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		table:  table,
		codec:  cdc,
		retry:  retry.NewMachine(cfg.Retry),
		listen: net.Listen,
	}
	s.publisher = registry.NewPublisher(cfg.Registry, registry.PublisherOptions{
		Application: cfg.Application,
		Logger:      log,
		OnError:     cfg.OnError,
	})
	s.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("bind failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	s.retry.OnExhausted = func(attempts int, err error) {
		log.Error("bind retries exhausted", zap.Int("attempts", attempts), zap.Error(err))
	}
	return s, nil
}

// Use appends a middleware to the pipeline. Requests already being
// dispatched are not affected.
func (s *Server) Use(mw middleware.Middleware) error {
	return s.pipeline.Use(mw)
}

// Addr returns the bound listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close withdraws the published providers, stops accepting, and drops every
// open connection. A Start still binding is cancelled and waited for. Calling
// Close when the server is neither starting nor listening is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.startDone == nil && s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if startDone := s.startDone; startDone != nil {
		s.startCancel()
		s.mu.Unlock()
		<-startDone
		s.mu.Lock()
	}
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.listener = nil
	publishCancel, publishDone := s.publishCancel, s.publishDone
	s.mu.Unlock()

	var errs []error

	// Withdraw from the registry first so consumers stop routing here.
	publishCancel()
	<-publishDone
	ctx, cancel := context.WithTimeout(context.Background(), unpublishTimeout)
	if err := s.publisher.Unpublish(ctx); err != nil {
		errs = append(errs, err)
	}
	cancel()

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	s.cancel()
	s.wg.Wait()

	s.log.Info("server closed")
	return errors.Join(errs...)
}
