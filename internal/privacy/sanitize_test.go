package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bearer token",
			input:    "request failed: Bearer eyJhbGciOiJIUzI1NiJ9.payload.sig rejected",
			expected: "request failed: [redacted] rejected",
		},
		{
			name:     "api key",
			input:    "upstream returned 401 for sk-abcdefghijklmnopqrstuvwx",
			expected: "upstream returned 401 for [redacted]",
		},
		{
			name:     "no secrets",
			input:    "connection refused",
			expected: "connection refused",
		},
		{
			name:     "short token-like word untouched",
			input:    "token-abc is not a credential",
			expected: "token-abc is not a credential",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RedactSecrets(tt.input))
		})
	}
}

func TestStripStackTrace(t *testing.T) {
	input := "panic: nil dereference\n\ngoroutine 7 [running]:\nmain.run()\n\tmain.go:42"
	out := StripStackTrace(input)
	assert.NotContains(t, out, "goroutine")
	assert.NotContains(t, out, "main.go:42")
	assert.Contains(t, out, "panic: nil dereference")
}

func TestStripStackTrace_RemovesFrameReferences(t *testing.T) {
	out := StripStackTrace("failed in manager.go:118 during activation")
	assert.NotContains(t, out, "manager.go:118")
	assert.Contains(t, out, "during activation")
}

func TestDisplaySafe(t *testing.T) {
	t.Run("collapses whitespace to single line", func(t *testing.T) {
		out := DisplaySafe("first line\n\tsecond   line")
		assert.Equal(t, "first line second line", out)
	})

	t.Run("truncates long messages", func(t *testing.T) {
		out := DisplaySafe(strings.Repeat("x", 1000))
		assert.Len(t, out, MaxMessageLen)
		assert.True(t, strings.HasSuffix(out, "..."))
	})

	t.Run("combined sanitization", func(t *testing.T) {
		input := "call failed with Bearer abc.def.ghi\ngoroutine 12 [running]:\nstack"
		out := DisplaySafe(input)
		assert.Equal(t, "call failed with [redacted]", out)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", DisplaySafe(""))
	})
}
