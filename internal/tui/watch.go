package tui

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"weave/internal/chat"
	"weave/internal/jobs"
	"weave/internal/session"
)

// WatchOptions 运行任务视图的输入输出
// WatchOptions selects the terminal streams of a watched job
type WatchOptions struct {
	ViewOptions
	// Input is read for the cancel key; nil leaves input to the caller.
	Input  io.Reader
	Output io.Writer
}

// Watch 显示任务进度直到任务结束
// Watch shows the progress of h until it ends. Placeholder updates come from
// store; cancelling ctx cancels the job. The returned error is the terminal
// rendering error only, the job's own error is Result.Err.
func Watch(ctx context.Context, store *session.Store, h *jobs.Handle, opts WatchOptions) (jobs.Result, error) {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	view := NewJobView(h.Job, h.Cancel, opts.ViewOptions)
	if m, ok := placeholder(store, h.Job); ok {
		view.message = m
	}

	progOpts := []tea.ProgramOption{
		tea.WithOutput(opts.Output),
		tea.WithoutSignalHandler(),
	}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	} else {
		progOpts = append(progOpts, tea.WithInput(nil))
	}
	p := tea.NewProgram(view, progOpts...)

	unsubscribe := store.Subscribe(func(ev session.Event) {
		if ev.Type != session.EventUpdated || ev.SessionID != h.Job.SessionID {
			return
		}
		if m, ok := placeholder(store, h.Job); ok {
			p.Send(MessageMsg(m))
		}
	})
	defer unsubscribe()

	stop := context.AfterFunc(ctx, h.Cancel)
	defer stop()

	go func() {
		<-h.Done()
		res, _ := h.Wait(context.Background())
		p.Send(DoneMsg(res))
	}()

	_, runErr := p.Run()
	res, _ := h.Wait(context.Background())
	if runErr != nil {
		return res, fmt.Errorf("render job view: %w", runErr)
	}
	return res, nil
}

func placeholder(store *session.Store, job chat.Job) (chat.Message, bool) {
	s, ok := store.Session(job.SessionID)
	if !ok {
		return chat.Message{}, false
	}
	idx := s.MessageIndex(job.MessageID)
	if idx < 0 {
		return chat.Message{}, false
	}
	return s.Messages[idx], true
}
