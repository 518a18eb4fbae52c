package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello", Truncate("hello", 5))
	assert.Equal(t, "he...", Truncate("hello world", 5))
	assert.Equal(t, "hel", Truncate("hello", 3))
}

func TestTruncateCenter(t *testing.T) {
	assert.Equal(t, "hello", TruncateCenter("hello", 10))
	assert.Equal(t, "abc...xyz", TruncateCenter("abcdefghijklmnopqrstuvwxyz", 9))
	assert.Equal(t, "abc", TruncateCenter("abcdef", 3))
}

func TestTruncateWithPreserve(t *testing.T) {
	// Prefix and suffix survive when the middle is cut.
	got := TruncateWithPreserve("abcdefghijklmnopqrstuvwxyz", 20, "[YT] ", "!")
	assert.LessOrEqual(t, len([]rune(got)), 20)
	assert.True(t, len(got) > 0)
	assert.Contains(t, got, "[YT] ")

	// Short text passes through untouched.
	assert.Equal(t, "[YT] abc!", TruncateWithPreserve("abc", 50, "[YT] ", "!"))
}

func TestContainsLower(t *testing.T) {
	assert.True(t, ContainsLower("Billie Jean", "jean"))
	assert.True(t, ContainsLower("MEGALOVANIA", "megalo"))
	assert.False(t, ContainsLower("Billie Jean", "thriller"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{name: "Zero means unbounded", d: 0, want: "∞"},
		{name: "Seconds only", d: 42 * time.Second, want: "42s"},
		{name: "Minutes and seconds", d: 3*time.Minute + 5*time.Second, want: "3m 5s"},
		{name: "Hours and minutes", d: 2*time.Hour + 30*time.Minute, want: "2h 30m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, 1, Min(1, 2))
	assert.Equal(t, 2, Max(1, 2))
	assert.Equal(t, -3, Min(-3, 0))
	assert.Equal(t, 0, Max(-3, 0))
}

func TestAtoi(t *testing.T) {
	assert.Equal(t, 42, Atoi("42"))
	assert.Equal(t, 0, Atoi("not a number"))
	assert.Equal(t, -7, Atoi("-7"))
}
