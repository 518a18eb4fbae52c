package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayTitle(t *testing.T) {
	tr := NewTrack("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	assert.Equal(t, "YouTube (dQw4w9WgXcQ)", displayTitle(tr))

	tr.mu.Lock()
	tr.Title = "Never Gonna Give You Up"
	tr.mu.Unlock()
	assert.Equal(t, "Never Gonna Give You Up", displayTitle(tr))

	plain := NewTrack("https://example.com/audio.mp3")
	assert.Equal(t, "https://example.com/audio.mp3", displayTitle(plain))
}

func TestTrackCachePath(t *testing.T) {
	orig := GlobalConfig
	defer func() { GlobalConfig = orig }()
	GlobalConfig = &Config{AudioCacheDir: filepath.Join("tmp", "cache")}

	p := trackCachePath("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	assert.Equal(t, filepath.Join("tmp", "cache", "dQw4w9WgXcQ.webm"), p)

	// Non-YouTube locators hash to a stable short name.
	a := trackCachePath("https://example.com/a.mp3")
	b := trackCachePath("https://example.com/a.mp3")
	c := trackCachePath("https://example.com/b.mp3")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, ".webm", filepath.Ext(a))
}

func newTestStreamProvider(t *testing.T) (*StreamProvider, context.CancelFunc) {
	t.Helper()
	sess := &VoiceSession{}
	sess.cancelCtx, sess.cancelFunc = context.WithCancel(context.Background())
	p := NewStreamProvider(sess)
	ctx, cancel := context.WithCancel(context.Background())
	p.SetContext(ctx)
	return p, cancel
}

func TestStreamProvider_DeliversPushedFrames(t *testing.T) {
	p, cancel := newTestStreamProvider(t)
	defer cancel()

	frame := []byte{0x01, 0x02, 0x03}
	p.PushFrame(frame)

	got, err := p.ProvideOpusFrame()
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestStreamProvider_DrainsSilenceThenEOF(t *testing.T) {
	p, cancel := newTestStreamProvider(t)
	defer cancel()

	finished := false
	p.OnFinish = func() { finished = true }

	// A nil frame marks the end of the stream and flips to draining.
	p.PushFrame(nil)

	silence := 0
	for {
		f, err := p.ProvideOpusFrame()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, OpusSilence, f)
		silence++
		require.Less(t, silence, 200, "provider never reached EOF")
	}

	assert.True(t, finished)
	// One frame flips to draining, then a full silence tail plays out.
	assert.Equal(t, 1+int(SilenceDuration.Milliseconds()/20), silence)
}

func TestStreamProvider_CancelledSessionEndsStream(t *testing.T) {
	p, cancel := newTestStreamProvider(t)
	defer cancel()

	finished := false
	p.OnFinish = func() { finished = true }

	p.sess.cancelFunc()
	_, err := p.ProvideOpusFrame()
	assert.Equal(t, io.EOF, err)
	assert.True(t, finished)
}

func TestStreamProvider_CloseIdempotent(t *testing.T) {
	p, cancel := newTestStreamProvider(t)
	defer cancel()

	calls := 0
	p.OnFinish = func() { calls++ }
	p.Close()
	p.Close()
	assert.Equal(t, 1, calls)
}
