// Package message defines the request and per-request response context that
// flow through the provider's dispatch pipeline.
//
// A Request is produced by the codec from one frame body and is never mutated
// afterwards. A Context is created fresh for every request, threaded through
// the middleware chain, and handed back to the codec for encoding.
package message

import (
	"context"
	"fmt"
)

// Attachment keys read by the router.
const (
	AttachmentPath    = "path"
	AttachmentGroup   = "group"
	AttachmentVersion = "version"
	AttachmentTimeout = "timeout"

	DefaultGroup   = ""
	DefaultVersion = "0.0.0"
)

// Request carries one decoded invocation.
type Request struct {
	ID           uint64 // Frame request id
	TwoWay       bool   // False for one-way calls that expect no response
	DubboVersion string
	Method       string
	ParamTypes   string // JVM type descriptors as sent by the consumer
	Args         []any
	Attachments  map[string]string
}

// Attachment returns the attachment value for key, or def when absent.
func (r *Request) Attachment(key, def string) string {
	if v, ok := r.Attachments[key]; ok {
		return v
	}
	return def
}

// Path is the interface identity the request targets.
func (r *Request) Path() string { return r.Attachment(AttachmentPath, "") }

// Group defaults to "" when the consumer sent none.
func (r *Request) Group() string { return r.Attachment(AttachmentGroup, DefaultGroup) }

// Version defaults to "0.0.0" when the consumer sent none.
func (r *Request) Version() string { return r.Attachment(AttachmentVersion, DefaultVersion) }

func (r *Request) String() string {
	return fmt.Sprintf("%s#%s(group=%q, version=%q)", r.Path(), r.Method, r.Group(), r.Version())
}

// Status is the outcome recorded on a Context. Values match the dubbo
// response status byte. The zero value means the dispatcher has not decided
// yet and is never encoded.
type Status byte

const (
	StatusOK              Status = 20
	StatusServiceNotFound Status = 60
	StatusServerError     Status = 80
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusServiceNotFound:
		return "SERVICE_NOT_FOUND"
	case StatusServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("Status(%d)", byte(s))
	}
}

// Body holds the outcome of the invocation: Result on success, Err on failure.
type Body struct {
	Result any
	Err    error
}

// Context is the mutable per-request record threaded through the middleware
// chain. It is owned by the dispatch call that created it and must not be
// retained after the response is written.
type Context struct {
	ctx     context.Context
	Request *Request
	Status  Status
	Body    Body

	// Attachments are returned to the consumer alongside the result.
	Attachments map[string]string
}

// NewContext creates a fresh response context for req.
func NewContext(ctx context.Context, req *Request) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{ctx: ctx, Request: req}
}

// Context returns the cancellation context of the request.
func (c *Context) Context() context.Context { return c.ctx }

// WithContext replaces the cancellation context, e.g. to apply a deadline.
func (c *Context) WithContext(ctx context.Context) {
	if ctx != nil {
		c.ctx = ctx
	}
}

// SetResult marks the body as a successful result and clears any error.
func (c *Context) SetResult(v any) {
	c.Body = Body{Result: v}
}

// SetError marks the body as failed and clears any result.
func (c *Context) SetError(err error) {
	c.Body = Body{Err: err}
}

// SetAttachment adds a response attachment.
func (c *Context) SetAttachment(key, value string) {
	if c.Attachments == nil {
		c.Attachments = make(map[string]string)
	}
	c.Attachments[key] = value
}
