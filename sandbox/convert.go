package sandbox

import (
	"encoding"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// UndefinedValue is what a host function receives for a guest undefined.
// A guest null arrives as nil.
type UndefinedValue struct{}

// Undefined is the single UndefinedValue.
var Undefined = UndefinedValue{}

// Serialized is a non-primitive guest argument converted to text on the
// guest side before the call. TypeOf keeps the guest's typeof result.
type Serialized struct {
	Text   string
	TypeOf string
}

// GuestFunc is an invoke-only handle to a guest callback. Calling it runs
// the callback synchronously inside the isolate.
type GuestFunc func(args ...any) (any, error)

// GuestException is a guest-side exception surfaced to the host.
type GuestException struct {
	Message string
}

func (e *GuestException) Error() string {
	return e.Message
}

// fromGuest converts one guest argument. tag is the guest typeof for
// arguments that were serialized before crossing, "" otherwise.
func (iso *Isolate) fromGuest(v goja.Value, tag string) (any, error) {
	if tag != "" {
		if goja.IsUndefined(v) || goja.IsNull(v) || v == nil {
			return Serialized{Text: "undefined", TypeOf: tag}, nil
		}
		return Serialized{Text: v.String(), TypeOf: tag}, nil
	}
	switch {
	case v == nil || goja.IsUndefined(v):
		return Undefined, nil
	case goja.IsNull(v):
		return nil, nil
	}
	if _, ok := v.(*goja.Object); ok {
		if fn, ok := goja.AssertFunction(v); ok {
			return iso.guestFunc(fn), nil
		}
		return nil, errors.New("objects cannot cross the sandbox boundary, pass primitives or text")
	}
	switch x := v.Export().(type) {
	case string, bool, int64, float64:
		return x, nil
	default:
		return nil, fmt.Errorf("value of type %T cannot cross the sandbox boundary", x)
	}
}

func (iso *Isolate) guestFunc(fn goja.Callable) GuestFunc {
	return func(args ...any) (any, error) {
		in := make([]goja.Value, len(args))
		for i, a := range args {
			v, err := iso.toGuest(a)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in[i] = v
		}
		res, err := fn(goja.Undefined(), in...)
		if err != nil {
			return nil, iso.guestError(err)
		}
		return iso.fromGuest(res, "")
	}
}

func (iso *Isolate) guestError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || iso.interrupted() {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &GuestException{Message: exceptionMessage(ex)}
	}
	return err
}

func exceptionMessage(ex *goja.Exception) string {
	if v := ex.Value(); v != nil {
		if obj, ok := v.(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
					return name.String() + ": " + msg.String()
				}
				return msg.String()
			}
		}
		return v.String()
	}
	return ex.Error()
}

// toGuest converts a host value into a native guest value. The result never
// aliases host memory: maps, slices and structs become fresh guest objects.
func (iso *Isolate) toGuest(v any) (goja.Value, error) {
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case UndefinedValue:
		return goja.Undefined(), nil
	case goja.Value:
		return x, nil
	case Serialized:
		return iso.vm.ToValue(x.Text), nil
	case Ref:
		return iso.vm.ToValue(int64(x.id)), nil
	case string, bool, int64, float64:
		return iso.vm.ToValue(x), nil
	case []byte:
		return iso.vm.ToValue(string(x)), nil
	case *big.Int:
		return iso.vm.ToValue(x.String()), nil
	}
	return iso.reflectToGuest(reflect.ValueOf(v))
}

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

func (iso *Isolate) reflectToGuest(rv reflect.Value) (goja.Value, error) {
	vm := iso.vm
	if rv.IsValid() && rv.Type().Implements(textMarshalerType) && rv.Kind() != reflect.Pointer {
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, err
		}
		return vm.ToValue(string(text)), nil
	}

	switch rv.Kind() {
	case reflect.Invalid:
		return goja.Null(), nil
	case reflect.Bool:
		return vm.ToValue(rv.Bool()), nil
	case reflect.String:
		return vm.ToValue(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return vm.ToValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return vm.ToValue(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return vm.ToValue(rv.Float()), nil
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return goja.Null(), nil
		}
		return iso.toGuest(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return goja.Null(), nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return vm.ToValue(string(rv.Bytes())), nil
		}
		return iso.arrayToGuest(rv)
	case reflect.Array:
		return iso.arrayToGuest(rv)
	case reflect.Map:
		if rv.IsNil() {
			return goja.Null(), nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map with %s keys cannot cross the sandbox boundary", rv.Type().Key())
		}
		obj := vm.NewObject()
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			val, err := iso.toGuest(rv.MapIndex(k).Interface())
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k.String(), val); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case reflect.Struct:
		obj := vm.NewObject()
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, skip := fieldName(f)
			if skip {
				continue
			}
			val, err := iso.toGuest(rv.Field(i).Interface())
			if err != nil {
				return nil, err
			}
			if err := obj.Set(name, val); err != nil {
				return nil, err
			}
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("value of kind %s cannot cross the sandbox boundary", rv.Kind())
	}
}

func (iso *Isolate) arrayToGuest(rv reflect.Value) (goja.Value, error) {
	items := make([]any, rv.Len())
	for i := range items {
		val, err := iso.toGuest(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		items[i] = val
	}
	return iso.vm.NewArray(items...), nil
}

// fieldName follows encoding/json tag conventions.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", true
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return f.Name, false
}
