package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
)

// DefaultRootName is the guest object that carries the whole API.
const DefaultRootName = "pw"

// Globals the engine binds and the prologue removes before guest code runs.
const (
	apiGlobal    = "__scriptbox_api"
	invokeGlobal = "__scriptbox_invoke"
)

// ErrNestedNamespace is returned for namespaces nested more than one level
// below the root; the bootstrap forwards exactly one level.
var ErrNestedNamespace = errors.New("namespaces may only be nested one level below the root")

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

type bootstrapChild struct {
	Name     string
	Callable bool
}

type bootstrapEntry struct {
	Name     string
	Kind     string
	Matchers []string
	Children []bootstrapChild
}

type bootstrapData struct {
	Root         string
	APIGlobal    string
	InvokeGlobal string
	Entries      []bootstrapEntry
}

var bootstrapTemplate = template.Must(template.New("bootstrap").Funcs(template.FuncMap{
	"q": strconv.Quote,
}).Parse(`(function (g, api, invoke) {
"use strict";
delete g[{{q .APIGlobal}}];
delete g[{{q .InvokeGlobal}}];
var stringify = JSON.stringify;
var slice = Array.prototype.slice;
function encode(args, out, tags) {
for (var i = 0; i < args.length; i++) {
var a = args[i], t = typeof a;
if (a === null || t === "string" || t === "number" || t === "boolean" || t === "undefined") {
out.push(a);
tags.push("");
continue;
}
var text = t === "object" ? stringify(a) : undefined;
out.push(text === undefined ? String(a) : text);
tags.push(t);
}
return [out, tags];
}
function forward(ref) {
return function () { return invoke(ref, slice.call(arguments)); };
}
var root = {};
{{- range .Entries}}
{{- if eq .Kind "callable"}}
root[{{q .Name}}] = forward(api[{{q .Name}}]);
{{- else if eq .Kind "matchers"}}
root[{{q .Name}}] = (function (set) {
function matchers(handle, negated) {
var m = {};
{{- range .Matchers}}
m[{{q .}}] = function () {
var e = encode(slice.call(arguments), [handle, negated], ["", ""]);
return invoke(set.matchers[{{q .}}], e[0], e[1]);
};
{{- end}}
return m;
}
return function () {
var e = encode(slice.call(arguments), [], []);
var handle = invoke(set.entry, e[0], e[1]);
var chain = matchers(handle, false);
chain.not = matchers(handle, true);
return chain;
};
})(api[{{q .Name}}]);
{{- else if eq .Kind "namespace"}}
root[{{q .Name}}] = (function (ns) {
var o = {};
{{- range .Children}}
{{- if .Callable}}
o[{{q .Name}}] = forward(ns[{{q .Name}}]);
{{- else}}
o[{{q .Name}}] = ns[{{q .Name}}];
{{- end}}
{{- end}}
return o;
})(api[{{q .Name}}]);
{{- else}}
root[{{q .Name}}] = api[{{q .Name}}];
{{- end}}
{{- end}}
g[{{q .Root}}] = root;
{{- range .Entries}}
g[{{q .Name}}] = root[{{q .Name}}];
{{- end}}
})(globalThis, globalThis[{{q .APIGlobal}}], globalThis[{{q .InvokeGlobal}}]);`))

// Synthesizer renders the guest prologue for an API tree. Output depends only
// on the tree shape and is cached per shape.
type Synthesizer struct {
	rootName string

	mu    sync.Mutex
	cache map[string]string
}

// NewSynthesizer creates a Synthesizer publishing the API under rootName.
func NewSynthesizer(rootName string) *Synthesizer {
	if rootName == "" {
		rootName = DefaultRootName
	}
	return &Synthesizer{
		rootName: rootName,
		cache:    make(map[string]string),
	}
}

// Synthesize returns the prologue for tree. The prologue is a single line so
// guest line numbers are offset by exactly one.
func (s *Synthesizer) Synthesize(tree *Tree) (string, error) {
	shape := tree.Shape()

	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.cache[shape]; ok {
		return out, nil
	}

	data, err := s.describe(tree)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := bootstrapTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render bootstrap: %w", err)
	}
	out := strings.ReplaceAll(buf.String(), "\n", " ")
	s.cache[shape] = out
	return out, nil
}

func (s *Synthesizer) describe(tree *Tree) (bootstrapData, error) {
	data := bootstrapData{
		Root:         s.rootName,
		APIGlobal:    apiGlobal,
		InvokeGlobal: invokeGlobal,
	}
	if !identRe.MatchString(s.rootName) {
		return data, fmt.Errorf("invalid root name %q", s.rootName)
	}

	for _, name := range sortedKeys(tree.Root) {
		if !identRe.MatchString(name) || name == s.rootName {
			return data, fmt.Errorf("invalid API name %q", name)
		}
		n := tree.Root[name]
		entry := bootstrapEntry{Name: name, Kind: n.Kind.String()}
		switch n.Kind {
		case NodeMatcherSet:
			for _, m := range sortedKeys(n.Matchers) {
				if !identRe.MatchString(m) || m == "not" {
					return data, fmt.Errorf("invalid matcher name %q", m)
				}
				entry.Matchers = append(entry.Matchers, m)
			}
		case NodeNamespace:
			for _, child := range sortedKeys(n.Children) {
				c := n.Children[child]
				if !identRe.MatchString(child) {
					return data, fmt.Errorf("invalid API name %q", name+"."+child)
				}
				switch c.Kind {
				case NodeNamespace, NodeMatcherSet:
					return data, fmt.Errorf("%s.%s: %w", name, child, ErrNestedNamespace)
				}
				entry.Children = append(entry.Children, bootstrapChild{Name: child, Callable: c.Kind == NodeCallable})
			}
		}
		data.Entries = append(data.Entries, entry)
	}
	return data, nil
}
