// Package protocol implements the dubbo binary frame used between consumers and
// this provider.
//
// Every frame is a fixed 16-byte header followed by a variable-length body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes.
//
// Frame format:
//
//	0     2    3      4                  12         16
//	┌─────┬────┬──────┬──────────────────┬──────────┬──────────────┐
//	│magic│flag│status│    request id    │ bodyLen  │   body ...   │
//	│dabb │    │      │      int64       │  uint32  │ bodyLen bytes│
//	└─────┴────┴──────┴──────────────────┴──────────┴──────────────┘
//
// flag: 0x80 request, 0x40 two-way, 0x20 event, low 5 bits serialization id.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicHigh  byte = 0xda
	MagicLow   byte = 0xbb
	HeaderSize int  = 16

	// MaxBodySize bounds a single frame body. Larger frames are treated as a
	// protocol violation and end the connection.
	MaxBodySize uint32 = 8 << 20
)

// Flag bits of header byte 2.
const (
	FlagRequest byte = 0x80
	FlagTwoWay  byte = 0x40
	FlagEvent   byte = 0x20

	serializationMask byte = 0x1f
)

// Response status codes carried in header byte 3.
const (
	StatusOK              byte = 20
	StatusClientTimeout   byte = 30
	StatusServerTimeout   byte = 31
	StatusBadRequest      byte = 40
	StatusBadResponse     byte = 50
	StatusServiceNotFound byte = 60
	StatusServiceError    byte = 70
	StatusServerError     byte = 80
	StatusClientError     byte = 90
)

var ErrBodyTooLarge = errors.New("protocol: frame body too large")

// Header is the fixed 16-byte frame header.
type Header struct {
	Flag    byte   // Request/two-way/event bits plus the serialization id
	Status  byte   // Response status; zero on requests
	ID      uint64 // Request id, echoed back on the response
	BodyLen uint32 // Set by Decode; Encode uses len(body) instead
}

// Serialization returns the serialization id encoded in the flag byte.
func (h *Header) Serialization() byte {
	return h.Flag & serializationMask
}

func (h *Header) IsRequest() bool { return h.Flag&FlagRequest != 0 }
func (h *Header) IsTwoWay() bool  { return h.Flag&FlagTwoWay != 0 }
func (h *Header) IsEvent() bool   { return h.Flag&FlagEvent != 0 }

// IsHeartbeat reports whether the frame is a heartbeat event. Heartbeats are
// handled by the connection's heartbeat session and never dispatched.
func IsHeartbeat(h *Header) bool {
	return h != nil && h.IsEvent()
}

// NewResponseHeader builds the header for a response to req.
func NewResponseHeader(req *Header, status byte, bodyLen int) *Header {
	return &Header{
		Flag:    req.Serialization(),
		Status:  status,
		ID:      req.ID,
		BodyLen: uint32(bodyLen),
	}
}

// NewHeartbeat builds a two-way heartbeat request header with an empty body.
func NewHeartbeat(id uint64, serialization byte) *Header {
	return &Header{
		Flag: FlagRequest | FlagTwoWay | FlagEvent | serialization&serializationMask,
		ID:   id,
	}
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w across goroutines must serialize calls themselves.
func Encode(w io.Writer, h *Header, body []byte) error {
	// Step 1: header and body go into one buffer so a single Write puts the
	// whole frame on the socket.
	buf := make([]byte, HeaderSize+len(body))

	// Step 2: fill the header, big-endian as the dubbo wire requires.
	buf[0] = MagicHigh
	buf[1] = MagicLow
	buf[2] = h.Flag
	buf[3] = h.Status
	binary.BigEndian.PutUint64(buf[4:12], h.ID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(body)))

	// Step 3: append the body and write.
	copy(buf[HeaderSize:], body)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
func Decode(r io.Reader) (*Header, []byte, error) {
	// Step 1: read exactly 16 bytes. ReadFull keeps reading across TCP
	// segment boundaries.
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	// Step 2: a wrong magic means the stream is out of sync; there is no way
	// to find the next frame boundary.
	if headerBuf[0] != MagicHigh || headerBuf[1] != MagicLow {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:2])
	}

	h := &Header{
		Flag:    headerBuf[2],
		Status:  headerBuf[3],
		ID:      binary.BigEndian.Uint64(headerBuf[4:12]),
		BodyLen: binary.BigEndian.Uint32(headerBuf[12:16]),
	}
	// Step 3: refuse to allocate an attacker-chosen length.
	if h.BodyLen > MaxBodySize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.BodyLen)
	}

	// Step 4: read the body. Heartbeats may carry none.
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
