package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{name: "Identical", a: "billie jean", b: "billie jean", want: 0},
		{name: "One substitution", a: "megalovani", b: "megalovania", want: 1},
		{name: "Two edits", a: "billy jean", b: "billie jean", want: 2},
		{name: "Empty left", a: "", b: "abc", want: 3},
		{name: "Empty right", a: "abc", b: "", want: 3},
		{name: "Both empty", a: "", b: "", want: 0},
		{name: "Unicode runes", a: "élégie", b: "elegie", want: 2},
		{name: "Classic kitten sitting", a: "kitten", b: "sitting", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LevenshteinDistance(tt.a, tt.b))
			assert.Equal(t, tt.want, LevenshteinDistance(tt.b, tt.a))
		})
	}
}

func TestIsAcceptableAnswer(t *testing.T) {
	tests := []struct {
		name       string
		candidate  string
		acceptable []string
		want       bool
	}{
		{
			name:       "Exact match",
			candidate:  "Billie Jean",
			acceptable: []string{"Billie Jean"},
			want:       true,
		},
		{
			name:       "Case insensitive",
			candidate:  "BILLIE JEAN",
			acceptable: []string{"billie jean"},
			want:       true,
		},
		{
			name:       "Common misspelling within tolerance",
			candidate:  "Billy Jean",
			acceptable: []string{"Billie Jean"},
			want:       true,
		},
		{
			name:       "One character missing",
			candidate:  "Megalovani",
			acceptable: []string{"Megalovania"},
			want:       true,
		},
		{
			name:       "Wrong answer",
			candidate:  "Totally Wrong",
			acceptable: []string{"Billie Jean"},
			want:       false,
		},
		{
			name:       "Three edits rejected",
			candidate:  "Megalo",
			acceptable: []string{"Megalovania"},
			want:       false,
		},
		{
			name:       "Second acceptable answer matches",
			candidate:  "Thriller",
			acceptable: []string{"Billie Jean", "Thriller"},
			want:       true,
		},
		{
			name:       "Surrounding whitespace ignored",
			candidate:  "  billie jean  ",
			acceptable: []string{"Billie Jean"},
			want:       true,
		},
		{
			name:       "Empty candidate",
			candidate:  "",
			acceptable: []string{"Billie Jean"},
			want:       false,
		},
		{
			name:       "Whitespace only candidate",
			candidate:  "   ",
			acceptable: []string{"Billie Jean"},
			want:       false,
		},
		{
			name:       "No acceptable answers",
			candidate:  "Billie Jean",
			acceptable: nil,
			want:       false,
		},
		{
			name:       "Short answer keeps full tolerance",
			candidate:  "abc",
			acceptable: []string{"a"},
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAcceptableAnswer(tt.candidate, tt.acceptable))
		})
	}
}
