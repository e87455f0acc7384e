package server

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strconv"

	"go.uber.org/zap"

	"mini-dubbo/retry"
)

const (
	randomPortBase  = 20880
	randomPortRange = 10000
)

// Start binds the listener, retrying per the configured policy, then begins
// accepting connections and publishes the providers in the background. It
// returns once the listener is bound. A *BindError means the policy gave up
// and the server will never bind. Close during Start cancels the pending
// retry and Start returns ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrServerClosed
	case s.listener != nil || s.startDone != nil:
		s.mu.Unlock()
		return ErrServerStarted
	}
	// Close cancels bindCtx, which stops a pending retry timer, then waits
	// on startDone.
	bindCtx, bindCancel := context.WithCancel(ctx)
	startDone := make(chan struct{})
	s.startCancel, s.startDone = bindCancel, startDone
	s.mu.Unlock()

	defer func() {
		bindCancel()
		s.mu.Lock()
		s.startCancel, s.startDone = nil, nil
		s.mu.Unlock()
		close(startDone)
	}()

	var ln net.Listener
	err := s.retry.Run(bindCtx, func(ctx context.Context) error {
		port := s.choosePort()
		l, err := s.listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			return err
		}
		ln = l
		return nil
	})
	if err != nil {
		if s.isClosed() {
			return ErrServerClosed
		}
		if errors.Is(err, retry.ErrExhausted) {
			return &BindError{Attempts: s.retry.Attempts(), Err: err}
		}
		return err
	}

	port := ln.Addr().(*net.TCPAddr).Port
	host := s.cfg.Host
	if host == "" {
		host = localIP()
	}

	s.mu.Lock()
	// Close may have run while the last bind attempt was in flight.
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	publishCtx, publishCancel := context.WithCancel(s.ctx)
	s.publishCancel = publishCancel
	s.publishDone = make(chan struct{})
	connCtx, publishDone := s.ctx, s.publishDone
	s.mu.Unlock()

	s.log.Info("provider listening", zap.String("addr", ln.Addr().String()), zap.String("advertise", host))

	s.wg.Add(1)
	go s.acceptLoop(connCtx, ln)

	go func() {
		defer close(publishDone)
		// Failures are logged and reported through OnError by the publisher.
		_ = s.publisher.Publish(publishCtx, host, port, s.table.Descriptors())
	}()
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acceptLoop hands every accepted connection to its own goroutine.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Close() closes the listener; only report unexpected failures.
			if !s.isClosed() {
				s.log.Error("accept failed", zap.Error(err))
				if s.cfg.OnError != nil {
					s.cfg.OnError(err)
				}
			}
			return
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) choosePort() int {
	if s.cfg.Port != 0 {
		return s.cfg.Port
	}
	return randomPortBase + rand.IntN(randomPortRange)
}

// localIP returns the first non-loopback IPv4 address, or 127.0.0.1.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
