package middleware

import (
	"time"

	"go.uber.org/zap"

	"mini-dubbo/message"
)

// LoggingMiddleware logs every invocation with its duration and outcome.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx *message.Context, next Next) error {
		start := time.Now()
		err := next()

		req := ctx.Request
		fields := []zap.Field{
			zap.String("service", req.Path()),
			zap.String("method", req.Method),
			zap.String("group", req.Group()),
			zap.String("version", req.Version()),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case err != nil:
			log.Error("invocation aborted", append(fields, zap.Error(err))...)
		case ctx.Body.Err != nil:
			log.Warn("invocation failed", append(fields, zap.NamedError("app_error", ctx.Body.Err))...)
		default:
			log.Info("invocation", append(fields, zap.Stringer("status", ctx.Status))...)
		}
		return err
	}
}
