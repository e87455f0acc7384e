package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"mini-dubbo/message"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*message.Context)(nil))
)

// ErrLossyConversion reports a wire number that does not fit the declared
// parameter type.
var ErrLossyConversion = errors.New("service: number does not fit parameter type")

// FromReceiver builds a descriptor from the exported methods of rcvr that look
// like
//
//	func (r *T) Name(ctx *message.Context, a A, b B, ...) (R, error)
//	func (r *T) Name(ctx *message.Context, a A, b B, ...) error
//
// Methods with any other shape are skipped. The method table is built once
// here; each call converts the loosely-typed wire arguments to the declared
// parameter types.
func FromReceiver(iface string, rcvr any) (Descriptor, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return Descriptor{}, fmt.Errorf("service: nil receiver for %s", iface)
	}
	if typ.Kind() != reflect.Ptr {
		return Descriptor{}, fmt.Errorf("service: receiver must be a pointer, got %s", typ.Kind())
	}
	val := reflect.ValueOf(rcvr)

	d := Descriptor{Interface: iface, Methods: make(map[string]Method)}
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !isHandler(method.Type) {
			continue
		}
		d.Methods[lowerFirst(method.Name)] = bind(val.Method(i))
	}
	if len(d.Methods) == 0 {
		return Descriptor{}, fmt.Errorf("%w: %s has no exportable methods", ErrNoMethods, typ)
	}
	return d, nil
}

// isHandler checks the method type including its receiver.
func isHandler(mt reflect.Type) bool {
	if mt.IsVariadic() || mt.NumIn() < 2 || mt.In(1) != contextType {
		return false
	}
	switch mt.NumOut() {
	case 1:
		return mt.Out(0) == errorType
	case 2:
		return mt.Out(1) == errorType
	default:
		return false
	}
}

func bind(fn reflect.Value) Method {
	ft := fn.Type()
	argTypes := make([]reflect.Type, ft.NumIn()-1)
	for i := range argTypes {
		argTypes[i] = ft.In(i + 1)
	}
	hasResult := ft.NumOut() == 2

	return func(ctx *message.Context, args []any) (any, error) {
		if len(args) != len(argTypes) {
			return nil, fmt.Errorf("expected %d arguments, got %d", len(argTypes), len(args))
		}
		in := make([]reflect.Value, 0, len(args)+1)
		in = append(in, reflect.ValueOf(ctx))
		for i, arg := range args {
			v, err := convertArg(arg, argTypes[i])
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v)
		}

		out := fn.Call(in)
		errv := out[len(out)-1]
		var err error
		if !errv.IsNil() {
			err = errv.Interface().(error)
		}
		if !hasResult {
			return nil, err
		}
		return out[0].Interface(), err
	}
}

// convertArg turns a decoded wire value into a value of type t. Numbers must
// fit the parameter exactly: fractions, negative unsigned values and
// overflows are rejected with ErrLossyConversion.
func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	if n, ok := arg.(json.Number); ok && isNumeric(t.Kind()) {
		return convertNumber(n, t)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(t.Kind()) {
		switch {
		case v.CanInt():
			return convertInt(v.Int(), t)
		case v.CanUint():
			return convertUint(v.Uint(), t)
		default:
			return convertFloat(v.Float(), t)
		}
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", arg, t, err)
	}
	return ptr.Elem(), nil
}

// convertNumber parses the literal directly so integers beyond 2^53 keep
// every digit.
func convertNumber(n json.Number, t reflect.Type) (reflect.Value, error) {
	switch {
	case isInt(t.Kind()):
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return convertInt(i, t)
		}
	case isUint(t.Kind()):
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return convertUint(u, t)
		}
	}
	// Exponent or fraction notation, or out of int64 range.
	f, err := n.Float64()
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %s to %s", ErrLossyConversion, n, t)
	}
	return convertFloat(f, t)
}

func convertInt(i int64, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case isInt(t.Kind()):
		if out.OverflowInt(i) {
			return reflect.Value{}, lossy(i, t)
		}
		out.SetInt(i)
	case isUint(t.Kind()):
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, lossy(i, t)
		}
		out.SetUint(uint64(i))
	default:
		out.SetFloat(float64(i))
	}
	return out, nil
}

func convertUint(u uint64, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case isInt(t.Kind()):
		if u > math.MaxInt64 || out.OverflowInt(int64(u)) {
			return reflect.Value{}, lossy(u, t)
		}
		out.SetInt(int64(u))
	case isUint(t.Kind()):
		if out.OverflowUint(u) {
			return reflect.Value{}, lossy(u, t)
		}
		out.SetUint(u)
	default:
		out.SetFloat(float64(u))
	}
	return out, nil
}

func convertFloat(f float64, t reflect.Type) (reflect.Value, error) {
	if !isInt(t.Kind()) && !isUint(t.Kind()) {
		out := reflect.New(t).Elem()
		if out.OverflowFloat(f) {
			return reflect.Value{}, lossy(f, t)
		}
		out.SetFloat(f)
		return out, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return reflect.Value{}, lossy(f, t)
	}
	// 2^63 and 2^64 are exact in float64; anything at or above them overflows.
	if isInt(t.Kind()) {
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return reflect.Value{}, lossy(f, t)
		}
		return convertInt(int64(f), t)
	}
	if f < 0 || f >= math.MaxUint64 {
		return reflect.Value{}, lossy(f, t)
	}
	return convertUint(uint64(f), t)
}

func lossy(v any, t reflect.Type) error {
	return fmt.Errorf("%w: %v to %s", ErrLossyConversion, v, t)
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// lowerFirst maps Go's exported SayHello to the conventional sayHello.
func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
