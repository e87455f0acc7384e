package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-dubbo/codec"
	"mini-dubbo/message"
	"mini-dubbo/middleware"
	"mini-dubbo/service"
)

func helloMethod(ctx *message.Context, args []any) (any, error) {
	return "hi " + args[0].(string), nil
}

func newTestServer(t *testing.T, methods map[string]service.Method) *Server {
	t.Helper()
	s, err := New(Config{
		Services: []service.Descriptor{{Interface: "com.foo.Bar", Methods: methods}},
	})
	require.NoError(t, err)
	return s
}

func helloRequest(args ...any) *message.Request {
	return &message.Request{
		Method:      "hello",
		Args:        args,
		Attachments: map[string]string{message.AttachmentPath: "com.foo.Bar"},
	}
}

func dispatch(s *Server, req *message.Request) *message.Context {
	return s.dispatch(context.Background(), req, &codec.JSONCodec{})
}

func TestDispatchHello(t *testing.T) {
	s := newTestServer(t, map[string]service.Method{"hello": helloMethod})

	mctx := dispatch(s, helloRequest("world"))
	assert.Equal(t, message.StatusOK, mctx.Status)
	assert.Equal(t, "hi world", mctx.Body.Result)
	assert.NoError(t, mctx.Body.Err)
}

func TestDispatchExplicitDefaultVersion(t *testing.T) {
	s := newTestServer(t, map[string]service.Method{"hello": helloMethod})

	req := helloRequest("world")
	req.Attachments[message.AttachmentVersion] = "0.0.0"
	req.Attachments[message.AttachmentGroup] = ""
	assert.Equal(t, message.StatusOK, dispatch(s, req).Status)
}

func TestDispatchNotFound(t *testing.T) {
	invoked := 0
	s := newTestServer(t, map[string]service.Method{
		"hello": func(ctx *message.Context, args []any) (any, error) {
			invoked++
			return nil, nil
		},
	})
	ran := 0
	require.NoError(t, s.Use(func(ctx *message.Context, next middleware.Next) error {
		ran++
		return next()
	}))

	group := helloRequest("world")
	group.Attachments[message.AttachmentGroup] = "v2"
	version := helloRequest("world")
	version.Attachments[message.AttachmentVersion] = "1.0.0"
	method := helloRequest("world")
	method.Method = "bye"
	path := helloRequest("world")
	path.Attachments[message.AttachmentPath] = "com.foo.Baz"

	for name, req := range map[string]*message.Request{
		"group": group, "version": version, "method": method, "path": path,
	} {
		t.Run(name, func(t *testing.T) {
			mctx := dispatch(s, req)
			assert.Equal(t, message.StatusServiceNotFound, mctx.Status)
			var notFound *RouteNotFoundError
			require.ErrorAs(t, mctx.Body.Err, &notFound)
			assert.Equal(t, req.Path(), notFound.Path)
			assert.Equal(t, req.Method, notFound.Method)
			assert.Equal(t, req.Group(), notFound.Group)
			assert.Equal(t, req.Version(), notFound.Version)
		})
	}
	assert.Equal(t, 0, invoked)
	assert.Equal(t, 0, ran)
}

func TestDispatchPassesArgsAndContext(t *testing.T) {
	var gotArgs []any
	var gotCtx *message.Context
	s := newTestServer(t, map[string]service.Method{
		"hello": func(ctx *message.Context, args []any) (any, error) {
			gotArgs, gotCtx = args, ctx
			return float64(len(args)), nil
		},
	})

	mctx := dispatch(s, helloRequest("a", float64(1), nil))
	assert.Equal(t, []any{"a", float64(1), nil}, gotArgs)
	assert.Same(t, mctx, gotCtx)
	assert.Equal(t, float64(3), mctx.Body.Result)
}

func TestDispatchApplicationErrors(t *testing.T) {
	appErr := errors.New("invalid name")
	s := newTestServer(t, map[string]service.Method{
		"fail":  func(*message.Context, []any) (any, error) { return "ignored", appErr },
		"panic": func(*message.Context, []any) (any, error) { panic("handler exploded") },
		"chan":  func(*message.Context, []any) (any, error) { return make(chan int), nil },
	})

	call := func(method string) *message.Context {
		req := helloRequest()
		req.Method = method
		return dispatch(s, req)
	}

	mctx := call("fail")
	assert.Equal(t, message.StatusOK, mctx.Status)
	assert.ErrorIs(t, mctx.Body.Err, appErr)
	assert.Nil(t, mctx.Body.Result)

	mctx = call("panic")
	assert.Equal(t, message.StatusOK, mctx.Status)
	var panicErr *PanicError
	require.ErrorAs(t, mctx.Body.Err, &panicErr)
	assert.Equal(t, "handler exploded", panicErr.Value)

	mctx = call("chan")
	assert.Equal(t, message.StatusOK, mctx.Status)
	var incompatible *codec.IncompatibleError
	assert.ErrorAs(t, mctx.Body.Err, &incompatible)
	assert.Nil(t, mctx.Body.Result)
}

func TestDispatchMiddlewareErrorIsServerError(t *testing.T) {
	boom := errors.New("middleware failed")

	t.Run("before next", func(t *testing.T) {
		invoked := false
		s := newTestServer(t, map[string]service.Method{
			"hello": func(*message.Context, []any) (any, error) {
				invoked = true
				return "hi", nil
			},
		})
		later := false
		require.NoError(t, s.Use(func(*message.Context, middleware.Next) error { return boom }))
		require.NoError(t, s.Use(func(ctx *message.Context, next middleware.Next) error {
			later = true
			return next()
		}))

		mctx := dispatch(s, helloRequest("world"))
		assert.Equal(t, message.StatusServerError, mctx.Status)
		assert.ErrorIs(t, mctx.Body.Err, boom)
		assert.False(t, invoked)
		assert.False(t, later)
	})

	t.Run("after next", func(t *testing.T) {
		s := newTestServer(t, map[string]service.Method{"hello": helloMethod})
		require.NoError(t, s.Use(func(ctx *message.Context, next middleware.Next) error {
			if err := next(); err != nil {
				return err
			}
			return boom
		}))

		mctx := dispatch(s, helloRequest("world"))
		assert.Equal(t, message.StatusServerError, mctx.Status)
		assert.ErrorIs(t, mctx.Body.Err, boom)
		assert.Nil(t, mctx.Body.Result)
	})

	t.Run("panic", func(t *testing.T) {
		s := newTestServer(t, map[string]service.Method{"hello": helloMethod})
		require.NoError(t, s.Use(func(*message.Context, middleware.Next) error { panic("bad middleware") }))

		mctx := dispatch(s, helloRequest("world"))
		assert.Equal(t, message.StatusServerError, mctx.Status)
		var panicErr *PanicError
		require.ErrorAs(t, mctx.Body.Err, &panicErr)
		assert.Equal(t, "bad middleware", panicErr.Value)
	})
}

func TestDispatchShortCircuit(t *testing.T) {
	s := newTestServer(t, map[string]service.Method{"hello": helloMethod})
	require.NoError(t, s.Use(func(*message.Context, middleware.Next) error { return nil }))

	mctx := dispatch(s, helloRequest("world"))
	assert.Equal(t, message.StatusOK, mctx.Status)
	assert.ErrorIs(t, mctx.Body.Err, ErrNotHandled)
}

func TestDispatchMiddlewareAnswers(t *testing.T) {
	s := newTestServer(t, map[string]service.Method{"hello": helloMethod})
	require.NoError(t, s.Use(func(ctx *message.Context, next middleware.Next) error {
		ctx.SetResult("cached")
		return nil
	}))

	mctx := dispatch(s, helloRequest("world"))
	assert.Equal(t, message.StatusOK, mctx.Status)
	assert.Equal(t, "cached", mctx.Body.Result)
}

func TestUseRejectsNil(t *testing.T) {
	s := newTestServer(t, map[string]service.Method{"hello": helloMethod})
	assert.ErrorIs(t, s.Use(nil), middleware.ErrNilMiddleware)
	assert.Equal(t, 0, s.pipeline.Len())
}

func TestNewRejectsInvalidServices(t *testing.T) {
	_, err := New(Config{Services: []service.Descriptor{{Interface: "com.foo.Bar"}}})
	assert.ErrorIs(t, err, service.ErrNoMethods)

	_, err = New(Config{Serialization: codec.CodecType(2)})
	assert.Error(t, err)
}

type counter struct{}

func (counter) Count(ctx *message.Context, n uint32) (uint32, error) { return n, nil }

func TestDispatchLossyArgumentIsApplicationError(t *testing.T) {
	d, err := service.FromReceiver("com.foo.Bar", &counter{})
	require.NoError(t, err)
	s := newTestServer(t, d.Methods)

	req := helloRequest(json.Number("-1"))
	req.Method = "count"
	mctx := dispatch(s, req)
	assert.Equal(t, message.StatusOK, mctx.Status)
	assert.ErrorIs(t, mctx.Body.Err, service.ErrLossyConversion)
	assert.Nil(t, mctx.Body.Result)
}
