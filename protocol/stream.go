package protocol

import (
	"context"
	"io"
	"sync"
)

// Frame is one decoded protocol frame.
type Frame struct {
	Header *Header
	Body   []byte
}

// Stream turns a byte stream into a channel of frames.
//
// A single goroutine owns the reader; frames are delivered in the order they
// were read. The channel is closed when the reader fails or ctx is cancelled.
// Cancelling ctx does not interrupt a blocked Read: the owner must also close
// the underlying connection.
type Stream struct {
	frames chan Frame

	mu  sync.Mutex
	err error
}

// NewStream starts reading frames from r until it fails or ctx is done.
func NewStream(ctx context.Context, r io.Reader) *Stream {
	s := &Stream{frames: make(chan Frame)}
	go s.readLoop(ctx, r)
	return s
}

// Frames returns the channel of decoded frames.
func (s *Stream) Frames() <-chan Frame {
	return s.frames
}

// Err returns the error that ended the stream, io.EOF on a clean close.
// Only meaningful after Frames is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) readLoop(ctx context.Context, r io.Reader) {
	defer close(s.frames)
	for {
		header, body, err := Decode(r)
		if err != nil {
			s.setErr(err)
			return
		}
		select {
		case s.frames <- Frame{Header: header, Body: body}:
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}
	}
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
