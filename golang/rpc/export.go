package rpc

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	errorInterface = reflect.TypeOf((*error)(nil)).Elem()
	callType       = reflect.TypeOf((*Call)(nil))
)

func MustExport(v interface{}) Handler {
	h, err := Export(v)
	if err != nil {
		panic(err)
	}
	return h
}

// Export makes a Handler out of a function or out of the exported
// methods of a value. A function takes no argument, one argument
// decoded from the call, or several decoded from an array, optionally
// followed by a *Call. It returns at most a value and an error.
func Export(v interface{}) (Handler, error) {
	if v == nil {
		return nil, errors.New("cannot export nil")
	}
	if isFunc(v) {
		return exportFunc(reflect.ValueOf(v), reflect.Value{})
	}
	return exportStruct(v)
}

func isFunc(v interface{}) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

func exportStruct(rcvr interface{}) (Handler, error) {
	t := reflect.TypeOf(rcvr)
	handlers := make(map[string]Handler)
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		handler, err := exportFunc(method.Func, reflect.ValueOf(rcvr))
		if err != nil {
			return nil, fmt.Errorf("unable to export method %s: %w", method.Name, err)
		}
		handlers[method.Name] = handler
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("%s has no exported methods", t)
	}

	return HandlerFunc(func(r Responder, c *Call) {
		handler, ok := handlers[c.Method]
		if !ok {
			r.Return(errors.New("method handler does not exist for this destination"))
			return
		}
		handler.RespondRPC(r, c)
	}), nil
}

func exportFunc(fn reflect.Value, rcvr reflect.Value) (Handler, error) {
	rt := fn.Type()
	if rt.Kind() != reflect.Func {
		return nil, fmt.Errorf("takes only a function")
	}
	if rt.IsVariadic() {
		return nil, fmt.Errorf("variadic functions are not supported")
	}

	var baseParams []reflect.Value
	if rcvr.IsValid() {
		if rt.NumIn() == 0 {
			return nil, fmt.Errorf("expecting 1 receiver argument, got 0")
		}
		baseParams = append(baseParams, rcvr)
	}

	switch rt.NumOut() {
	case 0, 1:
	case 2:
		if !rt.Out(1).Implements(errorInterface) {
			return nil, fmt.Errorf("expecting error as second return value, got %s", rt.Out(1))
		}
	default:
		return nil, fmt.Errorf("expecting 1 return value and optional error, got >2")
	}

	nargs := rt.NumIn() - len(baseParams)
	wantsCall := nargs > 0 && rt.In(rt.NumIn()-1) == callType
	if wantsCall {
		nargs--
	}
	first := len(baseParams)

	return HandlerFunc(func(r Responder, c *Call) {
		params := append([]reflect.Value(nil), baseParams...)

		switch {
		case nargs == 1:
			pv := reflect.New(rt.In(first))
			if err := c.Decode(pv.Interface()); err != nil {
				r.Return(fmt.Errorf("decoding argument: %w", err))
				return
			}
			params = append(params, pv.Elem())
		case nargs > 1:
			var args []interface{}
			if err := c.Decode(&args); err != nil {
				r.Return(fmt.Errorf("decoding arguments: %w", err))
				return
			}
			if len(args) != nargs {
				r.Return(fmt.Errorf("expecting %d arguments, got %d", nargs, len(args)))
				return
			}
			for idx, arg := range args {
				v, err := argValue(arg, rt.In(first+idx))
				if err != nil {
					r.Return(fmt.Errorf("argument %d: %w", idx, err))
					return
				}
				params = append(params, v)
			}
		}
		if wantsCall {
			params = append(params, reflect.ValueOf(c))
		}

		retVals := fn.Call(params)

		// up to 2 return values, one being an error
		var retVal reflect.Value
		for _, v := range retVals {
			if v.Type().Implements(errorInterface) {
				if !v.IsNil() {
					r.Return(v.Interface().(error))
					return
				}
			} else {
				retVal = v
			}
		}

		if !retVal.IsValid() {
			r.Return(nil)
		} else {
			r.Return(retVal.Interface())
		}
	}), nil
}

// argValue converts a decoded array element to the parameter type.
// Codecs decode numbers as float64 or 64 bit integers.
func argValue(arg interface{}, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if isNumber(v.Kind()) && isNumber(t.Kind()) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, t)
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
