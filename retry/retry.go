// Package retry drives the listener bootstrap through an explicit state
// machine:
//
//	Idle → Binding → Bound
//	          ↓   ↑
//	        Retrying
//	          ↓
//	        Fatal
//
// Each failed attempt asks the Policy for a delay. When the policy reports
// exhaustion the machine enters Fatal and never attempts again.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a bootstrap state.
type State int

const (
	Idle State = iota
	Binding
	Bound
	Retrying
	Fatal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	case Retrying:
		return "retrying"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy decides how long to wait before the next attempt. attempt counts
// failures so far, starting at 1. ok=false means give up.
type Policy interface {
	Next(attempt int) (delay time.Duration, ok bool)
}

// Exponential doubles the delay after every failure, capped at Max, and gives
// up after MaxAttempts failures.
type Exponential struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (p Exponential) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	delay := p.Base
	for i := 1; i < attempt && (p.Max <= 0 || delay < p.Max); i++ {
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay, true
}

// Machine is the retry state of one bootstrap.
type Machine struct {
	policy Policy

	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
	// OnExhausted is called once when the policy gives up.
	OnExhausted func(attempts int, err error)

	mu       sync.Mutex
	state    State
	attempts int
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the failures counted since the last success.
func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Machine) set(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Run calls bind until it succeeds, the policy is exhausted, or ctx ends.
// On exhaustion it returns an error wrapping ErrExhausted and the last bind
// error. A machine in Fatal refuses to run again.
func (m *Machine) Run(ctx context.Context, bind func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.state == Fatal {
		m.mu.Unlock()
		return ErrExhausted
	}
	m.mu.Unlock()

	for {
		m.set(Binding)
		err := bind(ctx)
		if err == nil {
			m.mu.Lock()
			m.attempts = 0
			m.state = Bound
			m.mu.Unlock()
			return nil
		}

		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		delay, ok := m.policy.Next(attempt)
		if !ok {
			m.set(Fatal)
			if m.OnExhausted != nil {
				m.OnExhausted(attempt, err)
			}
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		m.set(Retrying)
		if m.OnRetry != nil {
			m.OnRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.set(Idle)
			return ctx.Err()
		case <-timer.C:
		}
	}
}
