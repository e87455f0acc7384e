package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-dubbo/message"
	"mini-dubbo/protocol"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func allCodecs(t *testing.T) []Codec {
	t.Helper()
	var out []Codec
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeProtobuf} {
		c, err := GetCodec(ct)
		require.NoError(t, err)
		require.Equal(t, ct, c.Type())
		out = append(out, c)
	}
	return out
}

func TestValueStream(t *testing.T) {
	for _, c := range allCodecs(t) {
		t.Run(c.Type().String(), func(t *testing.T) {
			data, err := c.Encode("2.0.2", 42, true, nil, point{X: 1, Y: 2})
			require.NoError(t, err)

			values, err := c.Decode(data)
			require.NoError(t, err)
			require.Len(t, values, 5)
			assert.Equal(t, "2.0.2", values[0])
			assert.Equal(t, true, values[2])
			assert.Nil(t, values[3])
			if c.Type() == CodecTypeJSON {
				assert.Equal(t, json.Number("42"), values[1])
				assert.Equal(t, map[string]any{"x": json.Number("1"), "y": json.Number("2")}, values[4])
			} else {
				assert.Equal(t, float64(42), values[1])
				assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, values[4])
			}
		})
	}
}

func TestJSONCodecKeepsLargeIntegers(t *testing.T) {
	c := &JSONCodec{}
	data, err := c.Encode(int64(1<<53 + 1))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993\n", string(data))

	values, err := c.Decode(data)
	require.NoError(t, err)
	require.Len(t, values, 1)
	n, ok := values[0].(json.Number)
	require.True(t, ok)
	i, err := n.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<53 + 1), i)
}

func TestCompatible(t *testing.T) {
	for _, c := range allCodecs(t) {
		t.Run(c.Type().String(), func(t *testing.T) {
			assert.NoError(t, c.Compatible("hi"))
			assert.NoError(t, c.Compatible(point{}))
			assert.NoError(t, c.Compatible(map[string]string{"a": "b"}))

			err := c.Compatible(make(chan int))
			var incompatible *IncompatibleError
			require.ErrorAs(t, err, &incompatible)
			assert.Equal(t, c.Type(), incompatible.Codec)
			assert.Equal(t, "chan int", incompatible.Type)
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	for _, c := range allCodecs(t) {
		t.Run(c.Type().String(), func(t *testing.T) {
			req := &message.Request{
				DubboVersion: "2.0.2",
				Method:       "hello",
				ParamTypes:   "Ljava/lang/String;",
				Args:         []any{"world"},
				Attachments: map[string]string{
					message.AttachmentPath:  "com.foo.Bar",
					message.AttachmentGroup: "g1",
				},
			}
			body, err := EncodeRequest(c, req)
			require.NoError(t, err)

			h := &protocol.Header{Flag: protocol.FlagRequest | protocol.FlagTwoWay | byte(c.Type()), ID: 5}
			got, err := DecodeRequest(c, h, body)
			require.NoError(t, err)

			assert.Equal(t, uint64(5), got.ID)
			assert.True(t, got.TwoWay)
			assert.Equal(t, "hello", got.Method)
			assert.Equal(t, []any{"world"}, got.Args)
			assert.Equal(t, "com.foo.Bar", got.Path())
			assert.Equal(t, "g1", got.Group())
			assert.Equal(t, "0.0.0", got.Version())
		})
	}
}

func TestDecodeRequestVersionField(t *testing.T) {
	c := &JSONCodec{}
	body, err := c.Encode("2.0.2", "com.foo.Bar", "1.0.0", "hello", "", map[string]any{})
	require.NoError(t, err)

	got, err := DecodeRequest(c, &protocol.Header{Flag: protocol.FlagRequest}, body)
	require.NoError(t, err)
	assert.Empty(t, got.Args)
	assert.False(t, got.TwoWay)
	assert.Equal(t, "com.foo.Bar", got.Path())
	assert.Equal(t, "1.0.0", got.Version())
}

func TestDecodeRequestAttachmentsWinOverFields(t *testing.T) {
	c := &JSONCodec{}
	body, err := c.Encode("2.0.2", "com.foo.Old", "1.0.0", "hello", "",
		map[string]any{"path": "com.foo.Bar", "version": "2.0.0"})
	require.NoError(t, err)

	got, err := DecodeRequest(c, &protocol.Header{Flag: protocol.FlagRequest}, body)
	require.NoError(t, err)
	assert.Equal(t, "com.foo.Bar", got.Path())
	assert.Equal(t, "2.0.0", got.Version())

	// An empty version field leaves the default in place.
	body, err = c.Encode("2.0.2", "com.foo.Bar", "", "hello", "", nil)
	require.NoError(t, err)
	got, err = DecodeRequest(c, &protocol.Header{Flag: protocol.FlagRequest}, body)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", got.Version())
}

func TestDecodeRequestShort(t *testing.T) {
	c := &JSONCodec{}
	body, err := c.Encode("2.0.2", "com.foo.Bar")
	require.NoError(t, err)

	_, err = DecodeRequest(c, &protocol.Header{}, body)
	assert.ErrorIs(t, err, ErrShortInvocation)
}

func TestDecodeRequestBadAttachments(t *testing.T) {
	c := &JSONCodec{}
	body, err := c.Encode("2.0.2", "com.foo.Bar", "", "hello", "", "not-a-map")
	require.NoError(t, err)

	_, err = DecodeRequest(c, &protocol.Header{}, body)
	assert.Error(t, err)
}

func TestEncodeResponse(t *testing.T) {
	for _, c := range allCodecs(t) {
		t.Run(c.Type().String(), func(t *testing.T) {
			ctx := message.NewContext(nil, &message.Request{})

			_, _, err := EncodeResponse(c, ctx)
			assert.ErrorIs(t, err, ErrStatusUnset)

			ctx.Status = message.StatusOK
			ctx.SetResult("hi world")
			status, body, err := EncodeResponse(c, ctx)
			require.NoError(t, err)
			assert.Equal(t, protocol.StatusOK, status)
			result, err := DecodeResponse(c, status, body)
			require.NoError(t, err)
			assert.Equal(t, "hi world", result)

			ctx.SetResult(nil)
			status, body, err = EncodeResponse(c, ctx)
			require.NoError(t, err)
			result, err = DecodeResponse(c, status, body)
			require.NoError(t, err)
			assert.Nil(t, result)

			ctx.SetError(errors.New("app failed"))
			status, body, err = EncodeResponse(c, ctx)
			require.NoError(t, err)
			assert.Equal(t, protocol.StatusOK, status)
			_, err = DecodeResponse(c, status, body)
			assert.EqualError(t, err, "app failed")

			ctx.Status = message.StatusServiceNotFound
			ctx.SetError(errors.New("no provider"))
			status, body, err = EncodeResponse(c, ctx)
			require.NoError(t, err)
			assert.Equal(t, protocol.StatusServiceNotFound, status)
			_, err = DecodeResponse(c, status, body)
			assert.EqualError(t, err, "no provider")
		})
	}
}

func TestGetCodecUnknown(t *testing.T) {
	_, err := GetCodec(CodecType(2))
	assert.Error(t, err)

	ct, err := ParseType("protobuf")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeProtobuf, ct)

	_, err = ParseType("hessian2")
	assert.Error(t, err)
}
