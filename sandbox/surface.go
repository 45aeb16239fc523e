package sandbox

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Namespace is a host-side mapping of names to values, callables, matcher
// sets and nested namespaces.
type Namespace map[string]any

// HostFunc is a host callable exposed to guest code. Arguments are limited
// to the values that can cross the boundary (see Serialized, GuestFunc).
type HostFunc func(args []any) (any, error)

// MatcherSet describes an assertion builder: Expect turns the guest's value
// into an opaque handle and every matcher is invoked with
// (handle, negated, args...).
type MatcherSet struct {
	Expect   HostFunc
	Matchers map[string]HostFunc
}

// PlainValue marks data that must be exposed as-is, even when it is a map.
type PlainValue struct {
	V any
}

// Plain wraps v so that Wrap never recurses into it.
func Plain(v any) PlainValue {
	return PlainValue{V: v}
}

// NodeKind is the static tag of an API tree node.
type NodeKind int

// Node kinds.
const (
	NodeValue NodeKind = iota
	NodeCallable
	NodeMatcherSet
	NodeNamespace
)

func (k NodeKind) String() string {
	switch k {
	case NodeValue:
		return "value"
	case NodeCallable:
		return "callable"
	case NodeMatcherSet:
		return "matchers"
	case NodeNamespace:
		return "namespace"
	default:
		return "unknown"
	}
}

// Ref is an invoke-only capability handle into a Registry.
type Ref struct {
	id uint32
}

// Registry holds the host functions reachable from one tree.
type Registry struct {
	funcs []HostFunc
}

func (r *Registry) register(fn HostFunc) Ref {
	r.funcs = append(r.funcs, fn)
	return Ref{id: uint32(len(r.funcs) - 1)}
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return len(r.funcs)
}

// Invoke calls the function behind ref.
func (r *Registry) Invoke(ref Ref, args []any) (any, error) {
	if int(ref.id) >= len(r.funcs) {
		return nil, fmt.Errorf("invalid reference %d", ref.id)
	}
	return r.funcs[ref.id](args)
}

func (r *Registry) lookup(id int64) (Ref, error) {
	if id < 0 || id >= int64(len(r.funcs)) {
		return Ref{}, fmt.Errorf("invalid reference %d", id)
	}
	return Ref{id: uint32(id)}, nil
}

// Node is one entry of an API tree.
type Node struct {
	Kind     NodeKind
	Value    any
	Ref      Ref
	Matchers map[string]Ref
	Children map[string]*Node
}

// Tree mirrors a Namespace with callables replaced by references.
type Tree struct {
	Root     map[string]*Node
	Registry *Registry
}

// Wrap builds the API tree for ns. Keys are visited in sorted order so that
// the same shape always yields the same references.
func Wrap(ns Namespace) (*Tree, error) {
	t := &Tree{Registry: &Registry{}}
	root, err := t.wrapMap(ns, "")
	if err != nil {
		return nil, err
	}
	t.Root = root
	return t, nil
}

func (t *Tree) wrapMap(m map[string]any, prefix string) (map[string]*Node, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]*Node, len(m))
	for _, k := range keys {
		n, err := t.wrapValue(m[k], prefix+k)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func (t *Tree) wrapValue(v any, path string) (*Node, error) {
	switch x := v.(type) {
	case PlainValue:
		return &Node{Kind: NodeValue, Value: x.V}, nil
	case Namespace:
		return t.wrapNamespace(x, path)
	case map[string]any:
		return t.wrapNamespace(x, path)
	case HostFunc:
		return t.callable(x, path)
	case func([]any) (any, error):
		return t.callable(x, path)
	case MatcherSet:
		return t.matcherSet(x, path)
	case *MatcherSet:
		if x == nil {
			return nil, fmt.Errorf("%s: nil matcher set", path)
		}
		return t.matcherSet(*x, path)
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
		fn, err := adaptFunc(rv)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return t.callable(fn, path)
	}
	return &Node{Kind: NodeValue, Value: v}, nil
}

func (t *Tree) wrapNamespace(m map[string]any, path string) (*Node, error) {
	children, err := t.wrapMap(m, path+".")
	if err != nil {
		return nil, err
	}
	return &Node{Kind: NodeNamespace, Children: children}, nil
}

func (t *Tree) callable(fn HostFunc, path string) (*Node, error) {
	if fn == nil {
		return nil, fmt.Errorf("%s: nil function", path)
	}
	return &Node{Kind: NodeCallable, Ref: t.Registry.register(fn)}, nil
}

func (t *Tree) matcherSet(ms MatcherSet, path string) (*Node, error) {
	if ms.Expect == nil {
		return nil, fmt.Errorf("%s: matcher set without expect function", path)
	}
	if len(ms.Matchers) == 0 {
		return nil, fmt.Errorf("%s: matcher set without matchers", path)
	}
	n := &Node{
		Kind:     NodeMatcherSet,
		Ref:      t.Registry.register(ms.Expect),
		Matchers: make(map[string]Ref, len(ms.Matchers)),
	}
	for _, name := range sortedKeys(ms.Matchers) {
		if ms.Matchers[name] == nil {
			return nil, fmt.Errorf("%s.%s: nil matcher", path, name)
		}
		n.Matchers[name] = t.Registry.register(ms.Matchers[name])
	}
	return n, nil
}

// Shape renders names and tags of the tree; it is the cache key for the
// bootstrap prologue and never contains values.
func (t *Tree) Shape() string {
	var b strings.Builder
	writeShape(&b, t.Root)
	return b.String()
}

func writeShape(b *strings.Builder, nodes map[string]*Node) {
	b.WriteByte('{')
	for i, name := range sortedKeys(nodes) {
		if i > 0 {
			b.WriteByte(',')
		}
		n := nodes[name]
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(n.Kind.String())
		switch n.Kind {
		case NodeNamespace:
			writeShape(b, n.Children)
		case NodeMatcherSet:
			b.WriteString("[" + strings.Join(sortedKeys(n.Matchers), ",") + "]")
		}
	}
	b.WriteByte('}')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// adaptFunc turns an ordinary Go function into a HostFunc. Arguments are
// converted to the parameter types; a trailing error result is honoured.
func adaptFunc(fn reflect.Value) (HostFunc, error) {
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, errors.New("variadic functions are not supported")
	}
	switch {
	case ft.NumOut() > 2:
		return nil, errors.New("functions may return at most a value and an error")
	case ft.NumOut() == 2 && ft.Out(1) != errType:
		return nil, errors.New("second result must be an error")
	}

	return func(args []any) (any, error) {
		in := make([]reflect.Value, ft.NumIn())
		for i := range in {
			var arg any
			if i < len(args) {
				arg = args[i]
			}
			v, err := convertArg(arg, ft.In(i))
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in[i] = v
		}
		out := fn.Call(in)
		switch len(out) {
		case 0:
			return nil, nil
		case 1:
			if ft.Out(0) == errType {
				err, _ := out[0].Interface().(error)
				return nil, err
			}
			return out[0].Interface(), nil
		default:
			err, _ := out[1].Interface().(error)
			return out[0].Interface(), err
		}
	}, nil
}

func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	switch x := arg.(type) {
	case nil, UndefinedValue:
		return reflect.Zero(t), nil
	case Serialized:
		arg = x.Text
	}
	v := reflect.ValueOf(arg)
	switch {
	case v.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	case v.Type().ConvertibleTo(t) && v.Kind() != reflect.String && t.Kind() != reflect.String:
		return v.Convert(t), nil
	default:
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, t)
	}
}
