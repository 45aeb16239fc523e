package sandbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type header struct {
	Key   string
	Value string
}

type capturedResponse struct {
	Status  int
	Headers []header
	Body    any
	At      time.Time
	Next    *capturedResponse
}

func TestSanitizeAcyclic(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"Nil", nil},
		{"String", "hello"},
		{"Number", 42.5},
		{"Bool", true},
		{"EmptyMap", map[string]any{}},
		{"EmptySlice", []any{}},
		{"JSONDocument", map[string]any{
			"status": float64(200),
			"body": map[string]any{
				"items": []any{float64(1), "two", nil, map[string]any{"three": true}},
			},
			"headers": []any{map[string]any{"key": "Content-Type", "value": "application/json"}},
		}},
		{"TypedMap", map[string][]string{"accept": {"a", "b"}}},
		{"Struct", capturedResponse{
			Status:  201,
			Headers: []header{{Key: "X", Value: "1"}},
			Body:    map[string]any{"ok": true},
			At:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Next:    &capturedResponse{Status: 304},
		}},
		{"Array", [2]any{"a", []any{"b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Sanitize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.input, out)
		})
	}
}

func TestSanitizeCopiesDeeply(t *testing.T) {
	inner := map[string]any{"k": "v"}
	input := map[string]any{"inner": inner, "list": []any{inner}}

	out, err := Sanitize(input)
	require.NoError(t, err)

	inner["k"] = "changed"
	copied := out.(map[string]any)
	assert.Equal(t, "v", copied["inner"].(map[string]any)["k"])
	assert.Equal(t, "v", copied["list"].([]any)[0].(map[string]any)["k"])
}

func TestSanitizeSharedSubgraph(t *testing.T) {
	// A diamond chain doubles the number of paths per level; the copy must
	// still finish quickly because shared nodes are copied once.
	node := map[string]any{"leaf": true}
	for i := 0; i < 64; i++ {
		node = map[string]any{"left": node, "right": node}
	}

	done := make(chan error, 1)
	go func() {
		_, err := Sanitize(node)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Sanitize did not finish on a shared acyclic graph")
	}
}

func TestSanitizeCycles(t *testing.T) {
	selfMap := map[string]any{"name": "root"}
	selfMap["self"] = selfMap

	deepMap := map[string]any{}
	deepMap["a"] = map[string]any{"b": []any{map[string]any{"c": deepMap}}}

	selfSlice := []any{"x", nil}
	selfSlice[1] = selfSlice

	selfPtr := &capturedResponse{Status: 200}
	selfPtr.Next = selfPtr

	tests := []struct {
		name  string
		input any
		path  string
	}{
		{"SelfMap", selfMap, "$.self"},
		{"DeepMap", deepMap, "$.a.b[0].c"},
		{"SelfSlice", selfSlice, "$[1]"},
		{"SelfPointer", selfPtr, "$.Next"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan error, 1)
			go func() {
				_, err := Sanitize(tt.input)
				done <- err
			}()

			var err error
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("Sanitize did not terminate on cyclic input")
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCyclicReference)
			assert.Equal(t, KindCyclicReference, KindOf(err))

			var cycle *CycleError
			require.True(t, errors.As(err, &cycle))
			assert.Equal(t, tt.path, cycle.Path)
		})
	}
}

func TestSanitizeUnsupported(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"Func", map[string]any{"fn": func() {}}},
		{"Chan", []any{make(chan int)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupportedValue)
		})
	}
}
