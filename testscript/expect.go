package testscript

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/bytedance/sonic"

	"github.com/isdmx/scriptbox/sandbox"
)

// Matcher names exposed on every expect(...) chain.
const (
	MatcherToBe         = "toBe"
	MatcherToBeLevel2xx = "toBeLevel2xx"
	MatcherToBeLevel3xx = "toBeLevel3xx"
	MatcherToBeLevel4xx = "toBeLevel4xx"
	MatcherToBeLevel5xx = "toBeLevel5xx"
	MatcherToBeType     = "toBeType"
	MatcherToHaveLength = "toHaveLength"
	MatcherToInclude    = "toInclude"
)

var guestTypes = map[string]bool{
	"string":    true,
	"boolean":   true,
	"number":    true,
	"object":    true,
	"undefined": true,
	"bigint":    true,
	"symbol":    true,
	"function":  true,
}

// usageError is a matcher called with a subject or arguments it cannot
// check. Its text is shown to the script author as-is.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usage(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// matcherFunc checks subject and reports whether it passed and the message
// for both polarities. A non-nil error records the expectation as an error.
type matcherFunc func(subject any, args []any) (ok bool, msg string, negMsg string, err error)

func matchers() map[string]matcherFunc {
	return map[string]matcherFunc{
		MatcherToBe:         toBe,
		MatcherToBeLevel2xx: statusLevel(200),
		MatcherToBeLevel3xx: statusLevel(300),
		MatcherToBeLevel4xx: statusLevel(400),
		MatcherToBeLevel5xx: statusLevel(500),
		MatcherToBeType:     toBeType,
		MatcherToHaveLength: toHaveLength,
		MatcherToInclude:    toInclude,
	}
}

func toBe(subject any, args []any) (bool, string, string, error) {
	expected := argAt(args, 0)
	ok := strictEqual(subject, expected)
	return ok,
		fmt.Sprintf("Expected '%s' to be '%s'", display(subject), display(expected)),
		fmt.Sprintf("Expected '%s' to not be '%s'", display(subject), display(expected)),
		nil
}

func statusLevel(base int) matcherFunc {
	return func(subject any, _ []any) (bool, string, string, error) {
		code, ok := statusCode(subject)
		if !ok {
			return false, "", "", usage("Expected %d-level status but could not parse value '%s'", base, display(subject))
		}
		pass := code >= base && code < base+100
		return pass,
			fmt.Sprintf("Expected '%d' to be %d-level status", code, base),
			fmt.Sprintf("Expected '%d' to not be %d-level status", code, base),
			nil
	}
}

func toBeType(subject any, args []any) (bool, string, string, error) {
	want, ok := argAt(args, 0).(string)
	if !ok || !guestTypes[want] {
		return false, "", "", usage(`Argument for toBeType should be "string", "boolean", "number", "object", "undefined", "bigint", "symbol" or "function"`)
	}
	return typeOf(subject) == want,
		fmt.Sprintf("Expected '%s' to be type '%s'", display(subject), want),
		fmt.Sprintf("Expected '%s' to not be type '%s'", display(subject), want),
		nil
}

func toHaveLength(subject any, args []any) (bool, string, string, error) {
	length, ok := lengthOf(subject)
	if !ok {
		return false, "", "", usage("Expected toHaveLength to be called for an array or string")
	}
	want, ok := integer(argAt(args, 0))
	if !ok || want < 0 {
		return false, "", "", usage("Argument for toHaveLength should be a number")
	}
	return length == want,
		fmt.Sprintf("Expected the array to be of length '%d'", want),
		fmt.Sprintf("Expected the array to not be of length '%d'", want),
		nil
}

func toInclude(subject any, args []any) (bool, string, string, error) {
	needle := argAt(args, 0)
	switch needle.(type) {
	case nil:
		return false, "", "", usage("Argument for toInclude should not be null")
	case sandbox.UndefinedValue:
		return false, "", "", usage("Argument for toInclude should not be undefined")
	}

	msg := fmt.Sprintf("Expected %s to include %s", display(subject), display(needle))
	negMsg := fmt.Sprintf("Expected %s to not include %s", display(subject), display(needle))

	if s, ok := subject.(string); ok {
		sub, ok := needle.(string)
		if !ok {
			return false, "", "", usage("Expected toInclude to be called with a string for a string value")
		}
		return strings.Contains(s, sub), msg, negMsg, nil
	}

	items, ok := arrayOf(subject)
	if !ok {
		return false, "", "", usage("Expected toInclude to be called for an array or string")
	}
	for _, item := range items {
		if strictEqual(item, needle) {
			return true, msg, negMsg, nil
		}
	}
	return false, msg, negMsg, nil
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return sandbox.Undefined
}

// strictEqual follows ===: values serialized from guest objects never compare
// equal because the guest compares them by identity.
func strictEqual(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case sandbox.UndefinedValue:
		_, ok := b.(sandbox.UndefinedValue)
		return ok
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	default:
		return false
	}
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func integer(v any) (int, bool) {
	f, ok := number(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func statusCode(v any) (int, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}
	return integer(v)
}

func typeOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "object"
	case sandbox.UndefinedValue:
		return "undefined"
	case bool:
		return "boolean"
	case int64, float64, int:
		return "number"
	case string:
		return "string"
	case sandbox.Serialized:
		return x.TypeOf
	default:
		return "object"
	}
}

func lengthOf(v any) (int, bool) {
	if s, ok := v.(string); ok {
		return len(utf16.Encode([]rune(s))), true
	}
	items, ok := arrayOf(v)
	return len(items), ok
}

// arrayOf decodes a guest array that crossed the boundary as JSON text.
func arrayOf(v any) ([]any, bool) {
	s, ok := v.(sandbox.Serialized)
	if !ok || s.TypeOf != "object" || !strings.HasPrefix(strings.TrimSpace(s.Text), "[") {
		return nil, false
	}
	var items []any
	if err := sonic.UnmarshalString(s.Text, &items); err != nil {
		return nil, false
	}
	return items, true
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case sandbox.UndefinedValue:
		return "undefined"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case sandbox.Serialized:
		return x.Text
	default:
		return fmt.Sprint(x)
	}
}
