package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mini-dubbo/message"
)

var ErrTimeout = errors.New("request timed out")

// TimeOutMiddleware bounds the request's context with a deadline. Handlers
// observe it through ctx.Context() and should return once it is done.
//
// The handler is not preempted: one that ignores the context runs to
// completion on the connection's goroutine. Once the deadline has passed its
// result is discarded and the request fails with ErrTimeout.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(ctx *message.Context, next Next) error {
		parent := ctx.Context()
		deadline, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		ctx.WithContext(deadline)
		err := next()
		ctx.WithContext(parent)
		if err != nil {
			return err
		}
		// Either the handler gave up on the deadline or it finished late.
		if errors.Is(ctx.Body.Err, context.DeadlineExceeded) || errors.Is(deadline.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil
	}
}
