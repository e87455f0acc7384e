package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		Flag:    FlagRequest | FlagTwoWay | 6,
		ID:      12345,
		BodyLen: 11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, header.Flag, decoded.Flag)
	assert.Equal(t, header.ID, decoded.ID)
	assert.Equal(t, uint32(len(body)), decoded.BodyLen)
	assert.Equal(t, byte(6), decoded.Serialization())
	assert.True(t, decoded.IsRequest())
	assert.True(t, decoded.IsTwoWay())
	assert.False(t, IsHeartbeat(decoded))
	assert.Equal(t, body, decodedBody)
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalid := make([]byte, HeaderSize)
	invalid[0], invalid[1] = 0x00, 0x00
	var buf bytes.Buffer
	buf.Write(invalid)

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid magic number")
}

func TestDecodeHeartbeatEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, NewHeartbeat(7, 6), nil))

	decoded, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, IsHeartbeat(decoded))
	assert.Equal(t, uint64(7), decoded.ID)
	assert.Empty(t, body)
}

func TestDecodeBodyTooLarge(t *testing.T) {
	frame := make([]byte, HeaderSize)
	frame[0], frame[1] = MagicHigh, MagicLow
	binary.BigEndian.PutUint32(frame[12:16], MaxBodySize+1)

	_, _, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{Flag: FlagRequest}, []byte("hello")))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, _, err := Decode(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestResponseHeaderEchoesID(t *testing.T) {
	req := &Header{Flag: FlagRequest | FlagTwoWay | 22, ID: 99}
	resp := NewResponseHeader(req, StatusServiceNotFound, 4)

	assert.Equal(t, uint64(99), resp.ID)
	assert.Equal(t, byte(22), resp.Serialization())
	assert.False(t, resp.IsRequest())
	assert.Equal(t, StatusServiceNotFound, resp.Status)
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, Encode(&buf, &Header{Flag: FlagRequest, ID: i}, []byte{byte(i)}))
	}

	s := NewStream(context.Background(), &buf)
	var ids []uint64
	for f := range s.Frames() {
		ids = append(ids, f.Header.ID)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
	assert.ErrorIs(t, s.Err(), io.EOF)
}

func TestStreamStopsOnCancel(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(ctx, srv)

	go func() {
		_ = Encode(client, &Header{Flag: FlagRequest, ID: 1}, nil)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	srv.Close()

	done := make(chan struct{})
	go func() {
		for range s.Frames() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancel")
	}
	assert.Error(t, s.Err())
}
