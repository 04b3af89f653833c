package provider

import (
	"context"

	"weave/internal/stream"
)

// FragmentSource produces incremental text for a request.
type FragmentSource interface {
	Fragments(ctx context.Context, req TextRequest) <-chan stream.Fragment
}

// Streamer adapts a Generator into a FragmentSource.
type Streamer struct {
	Gen Generator
}

// Fragments runs the generator in a goroutine and forwards each chunk. The
// channel is closed when generation ends; an error is sent as the last
// fragment. Sends stop as soon as ctx is done.
func (s Streamer) Fragments(ctx context.Context, req TextRequest) <-chan stream.Fragment {
	out := make(chan stream.Fragment, 16)
	go func() {
		defer close(out)
		send := func(f stream.Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}
		_, err := s.Gen.Complete(ctx, req, &StreamCallbacks{
			OnTextChunk: func(chunk string) { send(stream.Fragment{Text: chunk}) },
		})
		if err != nil && ctx.Err() == nil {
			send(stream.Fragment{Err: err})
		}
	}()
	return out
}
