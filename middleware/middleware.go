// Package middleware implements the provider's interception pipeline.
//
// Middlewares compose like an onion around the terminal handler. Code before
// next() runs in registration order; code after next() runs in reverse. The
// chain is an explicit stage list walked by index over a per-request snapshot.
package middleware

import (
	"errors"
	"sync"

	"mini-dubbo/message"
)

// Next invokes the remainder of the chain.
type Next func() error

// Middleware intercepts a request. Returning an error aborts the request with
// a server error, whether it happens before or after next().
type Middleware func(ctx *message.Context, next Next) error

// HandlerFunc is the terminal stage of the chain.
type HandlerFunc func(ctx *message.Context) error

var (
	ErrNilMiddleware      = errors.New("middleware: middleware must be a non-nil function")
	ErrNextCalledMultiple = errors.New("middleware: next() called multiple times")
	ErrNilTerminalHandler = errors.New("middleware: terminal handler is nil")
)

// Pipeline is the ordered list of registered middlewares.
type Pipeline struct {
	mu     sync.RWMutex
	stages []Middleware
}

// Use appends mw. A nil middleware is rejected and the pipeline is unchanged.
func (p *Pipeline) Use(mw Middleware) error {
	if mw == nil {
		return ErrNilMiddleware
	}
	p.mu.Lock()
	p.stages = append(p.stages, mw)
	p.mu.Unlock()
	return nil
}

// Len returns the number of registered middlewares.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// snapshot returns the stages registered at this moment. Later Use calls do
// not affect a chain built from an earlier snapshot.
func (p *Pipeline) snapshot() []Middleware {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stages[:len(p.stages):len(p.stages)]
}

// Run composes the current stages around terminal and executes them.
func (p *Pipeline) Run(ctx *message.Context, terminal HandlerFunc) error {
	if terminal == nil {
		return ErrNilTerminalHandler
	}
	r := runner{stages: p.snapshot(), terminal: terminal, ctx: ctx, last: -1}
	return r.dispatch(0)
}

// Chain runs the given middlewares around terminal without a Pipeline.
func Chain(ctx *message.Context, terminal HandlerFunc, middlewares ...Middleware) error {
	r := runner{stages: middlewares, terminal: terminal, ctx: ctx, last: -1}
	return r.dispatch(0)
}

type runner struct {
	stages   []Middleware
	terminal HandlerFunc
	ctx      *message.Context
	last     int // Highest stage index entered so far
}

func (r *runner) dispatch(i int) error {
	if i <= r.last {
		return ErrNextCalledMultiple
	}
	r.last = i
	if i == len(r.stages) {
		return r.terminal(r.ctx)
	}
	return r.stages[i](r.ctx, func() error { return r.dispatch(i + 1) })
}
