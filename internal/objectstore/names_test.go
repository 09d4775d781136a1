package objectstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeName(t *testing.T) {
	cases := map[string]string{
		"plain-id":     "plain-id",
		"a/b":          "a%2Fb",
		`c:\x`:         "c%3A%5Cx",
		"100%":         "100%25",
		"..":           "%2E.",
		".hidden":      "%2Ehidden",
		`q?*"<>|`:      "q%3F%2A%22%3C%3E%7C",
		"tab\tnewline": "tab%09newline",
	}
	for in, want := range cases {
		got := EscapeName(in)
		assert.Equal(t, want, got, "escape %q", in)
		assert.False(t, hasIllegal(got), "escaped name %q still has illegal characters", got)

		back, err := UnescapeName(got)
		require.NoError(t, err)
		assert.Equal(t, in, back)
	}
}

func TestUnescapeName_Invalid(t *testing.T) {
	for _, in := range []string{"abc%", "abc%2", "abc%zz"} {
		_, err := UnescapeName(in)
		assert.ErrorIs(t, err, ErrIllegalKey, in)
	}
}

func FuzzEscapeName(f *testing.F) {
	f.Add("simple")
	f.Add("a/b\\c:d")
	f.Add("%%..%2F")
	f.Fuzz(func(t *testing.T, key string) {
		name := EscapeName(key)
		if hasIllegal(name) {
			t.Fatalf("escaped name %q contains illegal characters", name)
		}
		if strings.HasPrefix(name, ".") {
			t.Fatalf("escaped name %q starts with a dot", name)
		}
		back, err := UnescapeName(name)
		if err != nil {
			t.Fatalf("unescape %q: %v", name, err)
		}
		if back != key {
			t.Fatalf("round trip mismatch: %q -> %q -> %q", key, name, back)
		}
	})
}
