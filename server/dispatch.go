package server

import (
	"context"
	"runtime/debug"

	"mini-dubbo/codec"
	"mini-dubbo/message"
	"mini-dubbo/middleware"
	"mini-dubbo/service"
)

// dispatch resolves req against the routing table, runs the middleware chain,
// and returns the completed context. It never returns a context with an
// unset status.
func (s *Server) dispatch(ctx context.Context, req *message.Request, cdc codec.Codec) *message.Context {
	mctx := message.NewContext(ctx, req)

	_, method, ok := s.table.Lookup(req.Path(), req.Method, req.Group(), req.Version())
	if !ok {
		mctx.Status = message.StatusServiceNotFound
		mctx.SetError(&RouteNotFoundError{
			Path:    req.Path(),
			Method:  req.Method,
			Group:   req.Group(),
			Version: req.Version(),
		})
		return mctx
	}

	if err := s.runChain(mctx, invoke(method, cdc)); err != nil {
		mctx.Status = message.StatusServerError
		mctx.SetError(err)
		return mctx
	}

	// A middleware stopped the chain without deciding the outcome.
	if mctx.Status == 0 {
		mctx.Status = message.StatusOK
		if mctx.Body.Result == nil && mctx.Body.Err == nil {
			mctx.SetError(ErrNotHandled)
		}
	}
	return mctx
}

// runChain runs the pipeline and turns a panic escaping any stage into an error.
func (s *Server) runChain(mctx *message.Context, terminal middleware.HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.pipeline.Run(mctx, terminal)
}

// invoke builds the terminal stage. Failures of the method itself are
// application errors: they land in the body and the status stays OK.
func invoke(method service.Method, cdc codec.Codec) middleware.HandlerFunc {
	return func(mctx *message.Context) error {
		mctx.Status = message.StatusOK
		result, err := call(method, mctx)
		if err != nil {
			mctx.SetError(err)
			return nil
		}
		if err := cdc.Compatible(result); err != nil {
			mctx.SetError(err)
			return nil
		}
		mctx.SetResult(result)
		return nil
	}
}

func call(method service.Method, mctx *message.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return method(mctx, mctx.Request.Args)
}
