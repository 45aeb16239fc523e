package sandbox

import (
	"fmt"
	"reflect"
	"strconv"
)

// CycleError reports where a reference cycle closed.
type CycleError struct {
	Path string
}

func (e *CycleError) Error() string {
	return "reference cycle detected at " + e.Path
}

// identity keys a composite value by the memory it refers to. Slices also key
// on length so that distinct windows into one backing array stay distinct.
type identity struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type guard struct {
	visiting map[identity]bool
	done     map[identity]reflect.Value
}

// Sanitize returns an acyclic deep copy of v that is safe to hand to an
// isolate. Shared, acyclic subgraphs are copied once and shared in the
// output. Struct fields are copied deeply when exported; unexported fields
// keep their shallow value. Funcs, channels and unsafe pointers cannot be
// plain data and fail with KindUnsupportedValue.
func Sanitize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	g := &guard{
		visiting: make(map[identity]bool),
		done:     make(map[identity]reflect.Value),
	}
	out, err := g.copy(reflect.ValueOf(v), "$")
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func (g *guard) copy(v reflect.Value, path string) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Invalid:
		return v, nil
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return v, nil
	case reflect.Interface:
		if v.IsNil() {
			return v, nil
		}
		elem, err := g.copy(v.Elem(), path)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(elem)
		return out, nil
	case reflect.Pointer:
		if v.IsNil() {
			return v, nil
		}
		return g.enter(v, identity{ptr: v.Pointer(), typ: v.Type()}, path, func() (reflect.Value, error) {
			elem, err := g.copy(v.Elem(), path)
			if err != nil {
				return reflect.Value{}, err
			}
			out := reflect.New(v.Type().Elem())
			out.Elem().Set(elem)
			return out, nil
		})
	case reflect.Map:
		if v.IsNil() {
			return v, nil
		}
		return g.enter(v, identity{ptr: v.Pointer(), typ: v.Type()}, path, func() (reflect.Value, error) {
			out := reflect.MakeMapWithSize(v.Type(), v.Len())
			iter := v.MapRange()
			for iter.Next() {
				elem, err := g.copy(iter.Value(), mapPath(path, iter.Key()))
				if err != nil {
					return reflect.Value{}, err
				}
				if !elem.IsValid() {
					elem = reflect.Zero(v.Type().Elem())
				}
				out.SetMapIndex(iter.Key(), elem)
			}
			return out, nil
		})
	case reflect.Slice:
		if v.IsNil() {
			return v, nil
		}
		if v.Len() == 0 {
			return reflect.MakeSlice(v.Type(), 0, 0), nil
		}
		return g.enter(v, identity{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}, path, func() (reflect.Value, error) {
			out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
			if err := g.copyElems(v, out, path); err != nil {
				return reflect.Value{}, err
			}
			return out, nil
		})
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		if err := g.copyElems(v, out, path); err != nil {
			return reflect.Value{}, err
		}
		return out, nil
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			field, err := g.copy(v.Field(i), path+"."+t.Field(i).Name)
			if err != nil {
				return reflect.Value{}, err
			}
			if field.IsValid() {
				out.Field(i).Set(field)
			}
		}
		return out, nil
	default:
		return reflect.Value{}, newError(KindUnsupportedValue, "sanitize",
			fmt.Errorf("%s of kind %s cannot cross the sandbox boundary", path, v.Kind()))
	}
}

func (g *guard) copyElems(src, dst reflect.Value, path string) error {
	for i := 0; i < src.Len(); i++ {
		elem, err := g.copy(src.Index(i), path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return err
		}
		if elem.IsValid() {
			dst.Index(i).Set(elem)
		}
	}
	return nil
}

// enter tracks id on the current path while fn copies the value behind it.
func (g *guard) enter(v reflect.Value, id identity, path string, fn func() (reflect.Value, error)) (reflect.Value, error) {
	if out, ok := g.done[id]; ok {
		return out, nil
	}
	if g.visiting[id] {
		return reflect.Value{}, newError(KindCyclicReference, "sanitize", &CycleError{Path: path})
	}
	g.visiting[id] = true
	out, err := fn()
	delete(g.visiting, id)
	if err != nil {
		return reflect.Value{}, err
	}
	g.done[id] = out
	return out, nil
}

func mapPath(path string, key reflect.Value) string {
	if key.Kind() == reflect.String {
		return path + "." + key.String()
	}
	return fmt.Sprintf("%s[%v]", path, key.Interface())
}
