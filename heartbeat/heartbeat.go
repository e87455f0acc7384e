// Package heartbeat keeps one connection alive and detects dead peers.
//
// A Session tracks when the connection last read and last wrote a frame. If
// nothing was written for an interval it emits a heartbeat frame. If nothing
// was read within the timeout, or a heartbeat cannot be written, it fires the
// failure callback, which closes the connection.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval = 60 * time.Second
	timeoutFactor   = 3
)

var ErrTimeout = errors.New("heartbeat: connection idle timeout")

// Config controls a session's timers.
type Config struct {
	Interval time.Duration // Write idle time before a heartbeat is sent
	Timeout  time.Duration // Read idle time before the connection is dropped
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = timeoutFactor * c.Interval
	}
	return c
}

// Session is the heartbeat state of one connection.
type Session struct {
	cfg       Config
	send      func() error
	onFailure func(error)
	now       func() time.Time

	lastRead   atomic.Int64 // Unix nanoseconds
	lastWrite  atomic.Int64
	heartbeats atomic.Uint64

	failOnce sync.Once
}

// NewSession creates a session. send writes one heartbeat frame to the peer.
// onFailure is called at most once, with ErrTimeout when the peer goes silent
// or with the write error when a heartbeat cannot be sent.
func NewSession(cfg Config, send func() error, onFailure func(error)) *Session {
	s := &Session{
		cfg:       cfg.withDefaults(),
		send:      send,
		onFailure: onFailure,
		now:       time.Now,
	}
	now := s.now().UnixNano()
	s.lastRead.Store(now)
	s.lastWrite.Store(now)
	return s
}

// Run drives the session timer until ctx is done or the session fails.
func (s *Session) Run(ctx context.Context) {
	tick := s.cfg.Interval
	if s.cfg.Timeout < tick {
		tick = s.cfg.Timeout
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.check(); err != nil {
				return
			}
		}
	}
}

// check runs one timer round. It returns the failure once the session is
// dead: ErrTimeout, or the heartbeat write error.
func (s *Session) check() error {
	now := s.now()
	if now.Sub(s.LastRead()) > s.cfg.Timeout {
		return s.fail(ErrTimeout)
	}
	if now.Sub(s.LastWrite()) >= s.cfg.Interval && s.send != nil {
		// A connection that cannot take a heartbeat cannot take a response
		// either.
		if err := s.send(); err != nil {
			return s.fail(fmt.Errorf("heartbeat: send failed: %w", err))
		}
		s.MarkWrite()
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.failOnce.Do(func() {
		if s.onFailure != nil {
			s.onFailure(err)
		}
	})
	return err
}

// Heartbeat records an inbound heartbeat frame.
func (s *Session) Heartbeat() {
	s.heartbeats.Add(1)
	s.MarkRead()
}

// MarkRead records inbound activity.
func (s *Session) MarkRead() { s.lastRead.Store(s.now().UnixNano()) }

// MarkWrite records an outbound frame.
func (s *Session) MarkWrite() { s.lastWrite.Store(s.now().UnixNano()) }

func (s *Session) LastRead() time.Time  { return time.Unix(0, s.lastRead.Load()) }
func (s *Session) LastWrite() time.Time { return time.Unix(0, s.lastWrite.Load()) }

// Heartbeats returns how many heartbeat frames the peer has sent.
func (s *Session) Heartbeats() uint64 { return s.heartbeats.Load() }
