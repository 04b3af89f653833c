package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/stream"
)

func TestMockCompleteChunksReply(t *testing.T) {
	m := &MockGenerator{}
	var chunks []string
	got, err := m.Complete(context.Background(), TextRequest{Prompt: "hello there"}, &StreamCallbacks{
		OnTextChunk: func(c string) { chunks = append(chunks, c) },
	})
	require.NoError(t, err)
	assert.Equal(t, "Echo: hello there", got)
	assert.Equal(t, got, strings.Join(chunks, ""))
	assert.Len(t, chunks, 3)
}

func TestMockImageURL(t *testing.T) {
	res, err := (&MockGenerator{}).GenerateImage(context.Background(), ImageRequest{Prompt: "<cat>", AspectRatio: "9:16"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.URL, "data:image/svg+xml;utf8,"))
	assert.NotContains(t, res.URL, "<cat>")
}

func TestStreamerForwardsFragmentsThenError(t *testing.T) {
	boom := errors.New("boom")
	ch := Streamer{Gen: &MockGenerator{Fail: boom}}.Fragments(context.Background(), TextRequest{Prompt: "x"})
	var frags []stream.Fragment
	for f := range ch {
		frags = append(frags, f)
	}
	require.Len(t, frags, 1)
	assert.ErrorIs(t, frags[0].Err, boom)

	ch = Streamer{Gen: &MockGenerator{}}.Fragments(context.Background(), TextRequest{Prompt: "a b"})
	var text strings.Builder
	for f := range ch {
		require.NoError(t, f.Err)
		text.WriteString(f.Text)
	}
	assert.Equal(t, "Echo: a b", text.String())
}

func TestStreamerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := Streamer{Gen: &MockGenerator{ChunkDelay: 50 * time.Millisecond}}.Fragments(ctx, TextRequest{Prompt: "one two three four"})
	first := <-ch
	assert.Equal(t, "Echo: ", first.Text)
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
