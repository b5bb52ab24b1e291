package jsonrpc2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	typeOfError   = reflect.TypeOf((*error)(nil)).Elem()
	typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Method is an exported method of a service receiver, callable with JSON
// params.
type Method struct {
	Receiver reflect.Value
	Method   reflect.Method
	// ArgTypes excludes the receiver and the optional context.Context.
	ArgTypes []reflect.Type
	// ErrPos is the index of the error result, or -1.
	ErrPos int
	HasCtx bool
}

// newMethod inspects the signature of m. A method with unexported argument
// types is skipped (ok is false), unsupported results are an error.
func newMethod(receiver reflect.Value, m reflect.Method) (method Method, ok bool, err error) {
	method = Method{Receiver: receiver, Method: m, ErrPos: -1}
	for i := 1; i < m.Type.NumIn(); i++ {
		argType := m.Type.In(i)
		if !isExportedOrBuiltin(argType) {
			return method, false, nil
		}
		if argType == typeOfContext {
			method.HasCtx = true
			continue
		}
		method.ArgTypes = append(method.ArgTypes, argType)
	}

	// Supported results: (), (value), (error), (value, error)
	switch out := m.Type.NumOut(); {
	case out == 0:
	case out == 1 && m.Type.Out(0) == typeOfError:
		method.ErrPos = 0
	case out == 1:
	case out == 2 && m.Type.Out(1) == typeOfError:
		method.ErrPos = 1
	default:
		return method, false, fmt.Errorf("unsupported return values in method: %s", m.Name)
	}
	return method, true, nil
}

// Methods returns the callable methods of receiver by Go method name.
func Methods(receiver interface{}) (map[string]Method, error) {
	val := reflect.ValueOf(receiver)
	if name := reflect.Indirect(val).Type().Name(); !isExported(name) {
		return nil, fmt.Errorf("receiver must be exported: %s", name)
	}

	kind := val.Type()
	methods := make(map[string]Method, kind.NumMethod())
	for i := 0; i < kind.NumMethod(); i++ {
		m := kind.Method(i)
		if m.PkgPath != "" {
			continue
		}
		method, ok, err := newMethod(val, m)
		if err != nil {
			return nil, err
		}
		if ok {
			methods[m.Name] = method
		}
	}
	return methods, nil
}

// MethodByName returns a single callable method of receiver.
func MethodByName(receiver interface{}, name string) (*Method, error) {
	methods, err := Methods(receiver)
	if err != nil {
		return nil, err
	}
	m, ok := methods[name]
	if !ok {
		return nil, fmt.Errorf("method not found: %s", name)
	}
	return &m, nil
}

// Args decodes params into the method's arguments. An array is matched
// positionally and any other value is the single argument. A method taking
// one slice also accepts the array itself as that argument.
func (m *Method) Args(params json.RawMessage) ([]reflect.Value, error) {
	if isNull(params) {
		if len(m.ArgTypes) > 0 {
			return nil, errors.New("not enough arguments")
		}
		return nil, nil
	}
	if !isArray(params) {
		return decodeArgs([]json.RawMessage{params}, m.ArgTypes)
	}

	var positional []json.RawMessage
	if err := json.Unmarshal(params, &positional); err != nil {
		return nil, err
	}
	args, err := decodeArgs(positional, m.ArgTypes)
	if err != nil && m.takesSlice() {
		if whole, wholeErr := decodeArgs([]json.RawMessage{params}, m.ArgTypes); wholeErr == nil {
			return whole, nil
		}
	}
	return args, err
}

func (m *Method) takesSlice() bool {
	if len(m.ArgTypes) != 1 {
		return false
	}
	kind := m.ArgTypes[0].Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

func decodeArgs(raw []json.RawMessage, types []reflect.Type) ([]reflect.Value, error) {
	if len(raw) > len(types) {
		return nil, errors.New("too many arguments")
	}
	if len(raw) < len(types) {
		return nil, errors.New("not enough arguments")
	}
	values := make([]reflect.Value, len(raw))
	for i, arg := range raw {
		value := reflect.New(types[i])
		if err := json.Unmarshal(arg, value.Interface()); err != nil {
			return nil, fmt.Errorf("argument %d: %s", i, err)
		}
		values[i] = value.Elem()
	}
	return values, nil
}

// CallJSON decodes params with Args and calls the method.
func (m *Method) CallJSON(ctx context.Context, params json.RawMessage) (interface{}, error) {
	args, err := m.Args(params)
	if err != nil {
		return nil, err
	}
	return m.Call(ctx, args)
}

// Call executes the method. The first result is returned unless the error
// result is set.
func (m *Method) Call(ctx context.Context, args []reflect.Value) (interface{}, error) {
	if len(args) != len(m.ArgTypes) {
		return nil, fmt.Errorf("invalid number of args: expected %d, got %d", len(m.ArgTypes), len(args))
	}

	in := make([]reflect.Value, 0, len(args)+2)
	in = append(in, m.Receiver)
	if m.HasCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)

	out := m.Method.Func.Call(in)
	if m.ErrPos >= 0 && !out[m.ErrPos].IsNil() {
		return nil, out[m.ErrPos].Interface().(error)
	}
	if len(out) == 0 || m.ErrPos == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}
