package middleware

import (
	"errors"

	"golang.org/x/time/rate"

	"mini-dubbo/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware rejects requests beyond a token-bucket rate. A rejected
// request never reaches the service and is answered with a server error.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(ctx *message.Context, next Next) error {
		if !limiter.Allow() {
			return ErrRateLimited
		}
		return next()
	}
}
