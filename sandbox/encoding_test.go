package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBtoa(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Empty", "", ""},
		{"ASCII", "hello", "aGVsbG8="},
		{"Credentials", "user:pass", "dXNlcjpwYXNz"},
		{"Latin1", "é", "6Q=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Btoa(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("OutsideLatin1", func(t *testing.T) {
		_, err := Btoa("€")
		require.Error(t, err)
	})
}

func TestAtob(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Empty", "", ""},
		{"Padded", "aGVsbG8=", "hello"},
		{"Unpadded", "aGVsbG8", "hello"},
		{"Whitespace", " aGVs\nbG8= ", "hello"},
		{"Latin1", "6Q==", "é"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Atob(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"a", "!!!!", "aGVsbG8*"} {
		t.Run("Invalid_"+bad, func(t *testing.T) {
			_, err := Atob(bad)
			require.Error(t, err)
		})
	}
}

func TestBase64RoundTrip(t *testing.T) {
	input := "binary \x00\x01\xff text"
	runes := make([]rune, 0, len(input))
	for i := 0; i < len(input); i++ {
		runes = append(runes, rune(input[i]))
	}
	binary := string(runes)

	encoded, err := Btoa(binary)
	require.NoError(t, err)
	decoded, err := Atob(encoded)
	require.NoError(t, err)
	assert.Equal(t, binary, decoded)
}
