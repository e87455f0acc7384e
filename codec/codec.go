// Package codec serializes frame bodies.
//
// A body is a stream of values. A request body carries, in order: the dubbo
// version, the interface path, the interface version, the method name, the
// parameter type descriptors, every argument, and finally the attachment map.
// A response body carries a response flag, then the value or error message,
// then the attachment map.
package codec

import (
	"fmt"
)

// CodecType is the serialization id carried in the low 5 bits of the frame flag.
type CodecType byte

const (
	CodecTypeJSON     CodecType = 6
	CodecTypeProtobuf CodecType = 22
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeProtobuf:
		return "protobuf"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// Codec encodes and decodes a stream of loosely-typed values.
type Codec interface {
	Encode(values ...any) ([]byte, error)
	Decode(data []byte) ([]any, error)
	// Compatible reports whether v can be carried on the wire by this codec.
	Compatible(v any) error
	Type() CodecType
}

// GetCodec returns the codec for a serialization id.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	case CodecTypeProtobuf:
		return &ProtobufCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported serialization id %d", byte(codecType))
	}
}

// ParseType resolves a codec name from configuration.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "json", "fastjson":
		return CodecTypeJSON, nil
	case "protobuf":
		return CodecTypeProtobuf, nil
	default:
		return 0, fmt.Errorf("codec: unknown serialization %q", name)
	}
}

// IncompatibleError reports a value the codec cannot put on the wire.
type IncompatibleError struct {
	Codec CodecType
	Type  string
	Err   error
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("codec %s: value of type %s is not serializable: %v", e.Codec, e.Type, e.Err)
}

func (e *IncompatibleError) Unwrap() error { return e.Err }
