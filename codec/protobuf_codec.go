package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufCodec writes each value as a length-delimited google.protobuf.Value.
type ProtobufCodec struct{}

func (c *ProtobufCodec) Encode(values ...any) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range values {
		pv, err := toValue(v)
		if err != nil {
			return nil, err
		}
		if _, err := protodelim.MarshalTo(&buf, pv); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (c *ProtobufCodec) Decode(data []byte) ([]any, error) {
	r := bytes.NewReader(data)
	var values []any
	for {
		pv := &structpb.Value{}
		err := protodelim.UnmarshalFrom(r, pv)
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		if err != nil {
			return nil, err
		}
		values = append(values, pv.AsInterface())
	}
}

func (c *ProtobufCodec) Compatible(v any) error {
	if _, err := toValue(v); err != nil {
		return &IncompatibleError{Codec: CodecTypeProtobuf, Type: fmt.Sprintf("%T", v), Err: err}
	}
	return nil
}

func (c *ProtobufCodec) Type() CodecType {
	return CodecTypeProtobuf
}

// toValue converts v to a protobuf Value. Types structpb does not know
// (structs, typed maps and slices) go through their JSON form first.
func toValue(v any) (*structpb.Value, error) {
	if pv, err := structpb.NewValue(v); err == nil {
		return pv, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}
