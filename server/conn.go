package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-dubbo/codec"
	"mini-dubbo/heartbeat"
	"mini-dubbo/protocol"
)

// connection is the state of one accepted socket. Nothing in it is shared
// with other connections.
type connection struct {
	server  *Server
	conn    net.Conn
	log     *zap.Logger        // Tagged with the remote address
	session *heartbeat.Session // Read/write idle tracking for this socket

	// Responses are written from this goroutine but heartbeats come from the
	// session's ticker. Without the lock two frames could interleave on the
	// wire (header of one, body of the other).
	writeMu sync.Mutex
	eventID atomic.Uint64 // Request ids of server-originated heartbeats
}

// serveConn owns conn until it closes. Frames are handled strictly in the
// order they arrive: each request is dispatched and answered before the next
// frame is taken.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// A Read blocked in the stream goroutine ignores ctx. Closing the socket
	// on cancellation (server close or heartbeat failure) is what unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	c := &connection{
		server: s,
		conn:   conn,
		log:    s.log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
	// The session runs on its own goroutine. A silent peer or a failed
	// heartbeat write cancels ctx, and the AfterFunc above closes the socket.
	c.session = heartbeat.NewSession(s.cfg.Heartbeat, c.writeHeartbeat, func(err error) {
		c.log.Warn("closing connection", zap.Error(err))
		cancel()
	})
	go c.session.Run(ctx)

	c.log.Debug("connection accepted")
	stream := protocol.NewStream(ctx, conn)
	for frame := range stream.Frames() {
		if protocol.IsHeartbeat(frame.Header) {
			c.session.Heartbeat()
			continue
		}
		c.session.MarkRead()
		if !frame.Header.IsRequest() {
			c.log.Debug("ignoring non-request frame", zap.Uint64("id", frame.Header.ID))
			continue
		}
		if err := c.handle(ctx, frame); err != nil {
			c.log.Warn("write failed", zap.Error(err))
			return
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		c.log.Warn("connection read failed", zap.Error(err))
	}
	c.log.Debug("connection closed")
}

// handle dispatches one request frame and writes its response. Only write
// failures are returned; everything else is answered on the wire.
func (c *connection) handle(ctx context.Context, frame protocol.Frame) error {
	h := frame.Header

	// Step 1: pick the codec named by the request. An unknown id is answered
	// in the server's own serialization since the consumer's cannot be written.
	cdc, err := codec.GetCodec(codec.CodecType(h.Serialization()))
	if err != nil {
		return c.writeError(h, c.server.codec, protocol.StatusBadRequest, err)
	}

	// Step 2: decode the invocation. A malformed body fails this request only;
	// the framing is intact so the connection stays open.
	req, err := codec.DecodeRequest(cdc, h, frame.Body)
	if err != nil {
		c.log.Warn("bad request", zap.Uint64("id", h.ID), zap.Error(err))
		return c.writeError(h, cdc, protocol.StatusBadRequest, err)
	}

	// Step 3: route and run the middleware chain. This blocks the read loop,
	// which is what keeps frames on one connection in order.
	mctx := c.server.dispatch(ctx, req, cdc)
	if !req.TwoWay {
		return nil
	}

	// Step 4: encode and write. A result the codec accepted in Compatible but
	// still failed to encode becomes a server error.
	status, body, err := codec.EncodeResponse(cdc, mctx)
	if err != nil {
		c.log.Error("encode response failed", zap.Uint64("id", h.ID), zap.Error(err))
		return c.writeError(h, cdc, protocol.StatusServerError, err)
	}
	return c.write(protocol.NewResponseHeader(h, status, len(body)), body)
}

// writeError answers a request with an error status and a message body.
func (c *connection) writeError(h *protocol.Header, cdc codec.Codec, status byte, cause error) error {
	if !h.IsTwoWay() {
		return nil
	}
	body, err := cdc.Encode(cause.Error())
	if err != nil {
		return err
	}
	resp := protocol.NewResponseHeader(h, status, len(body))
	// cdc may differ from the request's serialization id (see handle).
	resp.Flag = byte(cdc.Type())
	return c.write(resp, body)
}

func (c *connection) write(h *protocol.Header, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.Encode(c.conn, h, body); err != nil {
		return err
	}
	c.session.MarkWrite()
	return nil
}

// writeHeartbeat sends one heartbeat event carrying a null body.
func (c *connection) writeHeartbeat() error {
	body, err := c.server.codec.Encode(nil)
	if err != nil {
		return err
	}
	h := protocol.NewHeartbeat(c.eventID.Add(1), byte(c.server.codec.Type()))
	return c.write(h, body)
}
