package repl

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"weave/internal/chat"
	"weave/internal/jobs"
	"weave/internal/tui"
)

func (l *Loop) submit(ctx context.Context, kind chat.Kind, text, ratio string, streamed bool) error {
	cur, ok := l.current()
	if !ok {
		return nil
	}

	var (
		h   *jobs.Handle
		err error
	)
	if streamed {
		h, err = l.app.Jobs.Stream(ctx, jobs.StreamRequest{SessionID: cur.ID, Prompt: text})
	} else {
		h, err = l.app.Jobs.Submit(ctx, jobs.Request{SessionID: cur.ID, Kind: kind, Prompt: text, AspectRatio: ratio})
	}
	switch {
	case errors.Is(err, chat.ErrBusy):
		l.println(l.t.T("job.busy"))
		return nil
	case errors.Is(err, chat.ErrKindMismatch):
		l.println(l.t.T("cmd.kind_mismatch", cur.Kind))
		return nil
	case err != nil:
		return err
	}

	l.mu.Lock()
	l.running = h
	l.mu.Unlock()

	if l.opts.Follow {
		l.follow(ctx, h, streamed)
		return nil
	}
	l.println(l.t.T("job.started", h.Job.Kind, h.Job.TaskID))
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		res, _ := h.Wait(context.Background())
		l.finished(h)
		l.report(res)
		l.showNotices()
	}()
	return nil
}

// follow waits for h in the foreground. An interrupt cancels the job
// instead of ending the process.
func (l *Loop) follow(ctx context.Context, h *jobs.Handle, streamed bool) {
	defer l.finished(h)
	jobCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if l.opts.Interactive {
		l.outMu.Lock()
		res, err := tui.Watch(jobCtx, l.app.Store, h, tui.WatchOptions{
			ViewOptions: tui.ViewOptions{
				Theme:        l.opts.Theme,
				I18n:         l.t,
				Width:        l.opts.Width,
				Streamed:     streamed,
				PollInterval: l.app.Config.PollInterval(),
				MaxAttempts:  l.app.Config.Jobs.PollMaxAttempts,
				Markdown:     l.opts.Markdown,
			},
			Output: l.out,
		})
		l.outMu.Unlock()
		if err == nil {
			return
		}
		l.log.Warn("job view failed", zap.Error(err))
		l.report(res)
		return
	}

	after := context.AfterFunc(jobCtx, h.Cancel)
	defer after()
	res, _ := h.Wait(context.Background())
	l.report(res)
}

func (l *Loop) finished(h *jobs.Handle) {
	l.mu.Lock()
	if l.running == h {
		l.running = nil
	}
	l.mu.Unlock()
}

func (l *Loop) report(res jobs.Result) {
	if res.Message.ID == "" {
		return
	}
	l.println(tui.RenderMessage(res.Message, l.opts.Theme, l.renderOptions()))
}

func (l *Loop) cancel() {
	l.mu.Lock()
	h := l.running
	l.mu.Unlock()
	if h == nil {
		l.println(l.t.T("job.none"))
		return
	}
	h.Cancel()
	l.println(l.t.T("job.cancelled"))
}
