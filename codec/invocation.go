package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"mini-dubbo/message"
	"mini-dubbo/protocol"
)

// Response flags written as the first value of a response body.
const (
	ResponseWithException                = 0
	ResponseValue                        = 1
	ResponseNullValue                    = 2
	ResponseWithExceptionWithAttachments = 3
	ResponseValueWithAttachments         = 4
	ResponseNullValueWithAttachments     = 5
)

// DubboVersion is reported in response attachments.
const DubboVersion = "2.0.2"

// invocationFields counts the fixed leading values of a request body.
const invocationFields = 5

var (
	ErrShortInvocation = errors.New("codec: request body is missing invocation fields")
	ErrStatusUnset     = errors.New("codec: response status was never set")
)

// DecodeRequest maps one request frame to a Request. The body is the value
// stream
//
//	dubboVersion, path, version, method, paramTypes, args..., attachments
func DecodeRequest(c Codec, h *protocol.Header, body []byte) (*message.Request, error) {
	values, err := c.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode invocation: %w", err)
	}
	if len(values) < invocationFields+1 {
		return nil, fmt.Errorf("%w: got %d values", ErrShortInvocation, len(values))
	}

	req := &message.Request{
		ID:           h.ID,
		TwoWay:       h.IsTwoWay(),
		DubboVersion: asString(values[0]),
		Method:       asString(values[3]),
		ParamTypes:   asString(values[4]),
		Args:         values[invocationFields : len(values)-1],
	}

	// The last value is always the attachment map, possibly null.
	attachments, ok := values[len(values)-1].(map[string]any)
	if !ok && values[len(values)-1] != nil {
		return nil, fmt.Errorf("decode invocation: attachments must be a map, got %T", values[len(values)-1])
	}
	req.Attachments = make(map[string]string, len(attachments)+2)
	for k, v := range attachments {
		req.Attachments[k] = asString(v)
	}
	// Attachments win over the fixed path and version fields. The fields only
	// fill in what the attachments left out, and an empty version field never
	// overrides the "0.0.0" default.
	if _, ok := req.Attachments[message.AttachmentPath]; !ok {
		req.Attachments[message.AttachmentPath] = asString(values[1])
	}
	if v := asString(values[2]); v != "" {
		if _, ok := req.Attachments[message.AttachmentVersion]; !ok {
			req.Attachments[message.AttachmentVersion] = v
		}
	}
	return req, nil
}

// EncodeRequest is the inverse of DecodeRequest. The provider never sends
// requests; this exists for tooling and tests that play the consumer.
func EncodeRequest(c Codec, req *message.Request) ([]byte, error) {
	values := make([]any, 0, invocationFields+len(req.Args)+1)
	values = append(values,
		req.DubboVersion,
		req.Path(),
		req.Attachment(message.AttachmentVersion, ""),
		req.Method,
		req.ParamTypes,
	)
	values = append(values, req.Args...)
	attachments := make(map[string]any, len(req.Attachments))
	for k, v := range req.Attachments {
		attachments[k] = v
	}
	values = append(values, attachments)
	return c.Encode(values...)
}

// EncodeResponse serializes a completed context and returns the frame status
// byte along with the body.
func EncodeResponse(c Codec, ctx *message.Context) (byte, []byte, error) {
	if ctx.Status == 0 {
		return 0, nil, ErrStatusUnset
	}
	// Non-OK frames carry only the error text; there is no response flag.
	if ctx.Status != message.StatusOK {
		body, err := c.Encode(errorMessage(ctx.Body.Err))
		return byte(ctx.Status), body, err
	}

	// Always the WithAttachments flags so the "dubbo" version attachment is
	// delivered.
	attachments := map[string]any{"dubbo": DubboVersion}
	for k, v := range ctx.Attachments {
		attachments[k] = v
	}

	var (
		body []byte
		err  error
	)
	switch {
	case ctx.Body.Err != nil:
		body, err = c.Encode(ResponseWithExceptionWithAttachments, errorMessage(ctx.Body.Err), attachments)
	case ctx.Body.Result == nil:
		body, err = c.Encode(ResponseNullValueWithAttachments, attachments)
	default:
		body, err = c.Encode(ResponseValueWithAttachments, ctx.Body.Result, attachments)
	}
	return byte(ctx.Status), body, err
}

// DecodeResponse reads a response body produced by EncodeResponse. It returns
// the result, or the remote error message as an error.
func DecodeResponse(c Codec, status byte, body []byte) (any, error) {
	values, err := c.Decode(body)
	if err != nil {
		return nil, err
	}
	if status != protocol.StatusOK {
		if len(values) == 0 {
			return nil, fmt.Errorf("remote status %d", status)
		}
		return nil, errors.New(asString(values[0]))
	}
	if len(values) == 0 {
		return nil, errors.New("codec: empty response body")
	}
	flag, _ := asInt(values[0])
	switch flag {
	case ResponseValue, ResponseValueWithAttachments:
		if len(values) < 2 {
			return nil, errors.New("codec: response value missing")
		}
		return values[1], nil
	case ResponseNullValue, ResponseNullValueWithAttachments:
		return nil, nil
	case ResponseWithException, ResponseWithExceptionWithAttachments:
		if len(values) < 2 {
			return nil, errors.New("codec: exception missing")
		}
		return nil, errors.New(asString(values[1]))
	default:
		return nil, fmt.Errorf("codec: unknown response flag %v", values[0])
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// asInt reads a small integer decoded by either codec.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
