package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "Watch URL",
			url:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			want: "dQw4w9WgXcQ",
		},
		{
			name: "Short URL",
			url:  "https://youtu.be/dQw4w9WgXcQ",
			want: "dQw4w9WgXcQ",
		},
		{
			name: "Watch URL with extra params",
			url:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
			want: "dQw4w9WgXcQ",
		},
		{
			name: "Music URL",
			url:  "https://music.youtube.com/watch?v=dQw4w9WgXcQ",
			want: "dQw4w9WgXcQ",
		},
		{
			name: "No video ID",
			url:  "https://example.com/watch",
			want: "",
		},
		{
			name: "Empty string",
			url:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractVideoID(tt.url))
		})
	}
}

func TestIsYouTubeURL(t *testing.T) {
	assert.True(t, isYouTubeURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, isYouTubeURL("https://youtu.be/abc"))
	assert.True(t, isYouTubeURL("https://music.youtube.com/watch?v=abc"))
	assert.False(t, isYouTubeURL("https://soundcloud.com/abc"))
	assert.False(t, isYouTubeURL("not a url"))
}

func TestPickByDuration(t *testing.T) {
	short := ytdlpSearchResult{URL: "short", Duration: 3 * time.Minute}
	medium := ytdlpSearchResult{URL: "medium", Duration: 12 * time.Minute}
	long := ytdlpSearchResult{URL: "long", Duration: 45 * time.Minute}
	unknown := ytdlpSearchResult{URL: "unknown", Duration: 0}

	tests := []struct {
		name    string
		results []ytdlpSearchResult
		want    string
	}{
		{
			name:    "Short preferred over earlier medium",
			results: []ytdlpSearchResult{medium, short},
			want:    "short",
		},
		{
			name:    "First short wins",
			results: []ytdlpSearchResult{short, {URL: "short2", Duration: 2 * time.Minute}},
			want:    "short",
		},
		{
			name:    "Medium fallback",
			results: []ytdlpSearchResult{long, medium},
			want:    "medium",
		},
		{
			name:    "Exactly at short bound",
			results: []ytdlpSearchResult{{URL: "edge", Duration: 4 * time.Minute}},
			want:    "edge",
		},
		{
			name:    "Only long results",
			results: []ytdlpSearchResult{long},
			want:    "",
		},
		{
			name:    "Unknown duration skipped",
			results: []ytdlpSearchResult{unknown, short},
			want:    "short",
		},
		{
			name:    "Empty results",
			results: nil,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickByDuration(tt.results))
		})
	}
}

func TestIsPermissionError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		stderr string
		want   bool
	}{
		{
			name:   "403 in stderr",
			stderr: "ERROR: unable to download video data: HTTP Error 403: Forbidden",
			want:   true,
		},
		{
			name: "Forbidden in error",
			err:  errors.New("request forbidden by server"),
			want: true,
		},
		{
			name: "403 in error",
			err:  errors.New("got HTTP 403"),
			want: true,
		},
		{
			name:   "Unrelated failure",
			err:    errors.New("network unreachable"),
			stderr: "ERROR: timed out",
			want:   false,
		},
		{
			name: "Nothing at all",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPermissionError(tt.err, tt.stderr))
		})
	}
}
