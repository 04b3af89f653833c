package jobs

import (
	"context"

	"weave/internal/chat"
	"weave/internal/stream"
)

// Handle follows one submitted job.
type Handle struct {
	Job chat.Job

	tok    *stream.Token
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	res    Result
}

func newHandle(job chat.Job) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		Job:    job,
		tok:    stream.NewToken(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel asks the job loop to stop. It is cooperative and idempotent; the
// loop finalizes the placeholder with the cancellation marker.
func (h *Handle) Cancel() {
	h.tok.Cancel()
	h.cancel()
}

// Done is closed once the outcome has been reflected.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job ends or ctx is done. The error is the job's
// terminal error, if any.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.res, h.res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) finish(res Result) {
	h.res = res
	h.cancel()
	close(h.done)
}
