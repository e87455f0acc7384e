package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// JSONCodec writes each value as one JSON document terminated by a newline,
// matching the fastjson body layout. Decoded numbers are json.Number.
type JSONCodec struct{}

func (c *JSONCodec) Encode(values ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (c *JSONCodec) Decode(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	// Numbers stay json.Number so int64 arguments above 2^53 survive.
	dec.UseNumber()
	var values []any
	for {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
}

func (c *JSONCodec) Compatible(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return &IncompatibleError{Codec: CodecTypeJSON, Type: fmt.Sprintf("%T", v), Err: err}
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
