package sandbox

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/dop251/goja"
)

// Btoa encodes a binary string (one byte per UTF-16 code unit, all below
// 0x100) as base64.
func Btoa(s string) (string, error) {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units))
	for i, u := range units {
		if u > 0xff {
			return "", fmt.Errorf("invalid character at index %d: outside the Latin1 range", i)
		}
		buf[i] = byte(u)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Atob decodes base64 into a binary string. ASCII whitespace is ignored and
// missing padding is tolerated.
func Atob(s string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)
	clean = strings.TrimRight(clean, "=")
	if len(clean)%4 == 1 {
		return "", fmt.Errorf("the string to be decoded is not correctly encoded")
	}
	buf, err := base64.RawStdEncoding.DecodeString(clean)
	if err != nil {
		return "", fmt.Errorf("the string to be decoded is not correctly encoded")
	}
	runes := make([]rune, len(buf))
	for i, b := range buf {
		runes[i] = rune(b)
	}
	return string(runes), nil
}

func (iso *Isolate) atob(call goja.FunctionCall) goja.Value {
	out, err := Atob(call.Argument(0).String())
	if err != nil {
		panic(iso.vm.NewGoError(err))
	}
	return iso.vm.ToValue(out)
}

func (iso *Isolate) btoa(call goja.FunctionCall) goja.Value {
	out, err := Btoa(call.Argument(0).String())
	if err != nil {
		panic(iso.vm.NewGoError(err))
	}
	return iso.vm.ToValue(out)
}
