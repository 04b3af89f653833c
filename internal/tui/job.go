// Package tui renders the progress of a running generation job inline in the
// terminal and formats sessions, messages and notices for the REPL.
package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"weave/internal/chat"
	"weave/internal/i18n"
	"weave/internal/jobs"
)

// MessageMsg carries a fresh snapshot of the job's placeholder message.
type MessageMsg chat.Message

// DoneMsg carries the reflected outcome of the job.
type DoneMsg jobs.Result

// ViewOptions 任务视图配置
// ViewOptions configures a job view
type ViewOptions struct {
	Theme Theme
	I18n  *i18n.I18n
	Keys  KeyMap
	Width int
	// Streamed marks a fragment-streamed reply; it has no poll attempts.
	Streamed     bool
	PollInterval time.Duration
	MaxAttempts  int
	Markdown     bool
}

// JobView 单个任务的内联进度视图
// JobView is the inline progress display of one job
type JobView struct {
	opts    ViewOptions
	spinner spinner.Model
	bar     progress.Model

	job       chat.Job
	started   time.Time
	now       func() time.Time
	message   chat.Message
	result    *jobs.Result
	cancel    func()
	cancelled bool
}

// NewJobView 创建任务视图；cancel 在用户按下取消键时调用
// NewJobView creates a job view; cancel runs when the cancel key is pressed
func NewJobView(job chat.Job, cancel func(), opts ViewOptions) JobView {
	if opts.I18n == nil {
		opts.I18n = i18n.New("en")
	}
	if opts.Keys.Cancel.Keys() == nil {
		opts.Keys = DefaultKeyMap()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = jobs.DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = jobs.DefaultMaxAttempts
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if cancel == nil {
		cancel = func() {}
	}
	barWidth := opts.Width - 10
	if barWidth > 48 {
		barWidth = 48
	}
	if barWidth < 10 {
		barWidth = 10
	}
	spin := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(opts.Theme.SpinnerStyle))
	return JobView{
		opts:    opts,
		spinner: spin,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		job:     job,
		started: time.Now(),
		now:     time.Now,
		message: chat.Message{ID: job.MessageID, Role: chat.RoleAssistant, Streaming: true},
		cancel:  cancel,
	}
}

func (v JobView) Init() tea.Cmd {
	return v.spinner.Tick
}

func (v JobView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.opts.Width = msg.Width
		return v, nil

	case tea.KeyMsg:
		if key.Matches(msg, v.opts.Keys.Cancel) && !v.cancelled && v.result == nil {
			v.cancelled = true
			v.cancel()
		}
		return v, nil

	case spinner.TickMsg:
		if v.result != nil {
			return v, nil
		}
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return v, cmd

	case MessageMsg:
		if msg.ID == v.job.MessageID {
			v.message = chat.Message(msg)
		}
		return v, nil

	case DoneMsg:
		res := jobs.Result(msg)
		v.result = &res
		if res.Message.ID != "" {
			v.message = res.Message
		}
		return v, tea.Quit
	}
	return v, nil
}

func (v JobView) View() string {
	theme := v.opts.Theme
	if v.result != nil {
		out := RenderMessage(v.message, theme, RenderOptions{Width: v.opts.Width, Markdown: v.opts.Markdown})
		return out + "\n"
	}

	var b strings.Builder
	b.WriteString(v.spinner.View())
	b.WriteString(" ")
	b.WriteString(theme.StatusStyle.Render(v.Status()))
	if v.cancelled {
		b.WriteString(" ")
		b.WriteString(theme.MutedStyle.Render(v.opts.I18n.T("status.cancelling")))
	} else {
		b.WriteString("  ")
		b.WriteString(theme.MutedStyle.Render(v.opts.Keys.Hint()))
	}

	switch {
	case v.job.Kind == chat.KindImage:
		b.WriteString("\n")
		b.WriteString(v.bar.ViewAs(float64(v.Percent()) / 100))
	case v.message.Content != "":
		b.WriteString("\n")
		b.WriteString(RenderMessage(v.message, theme, RenderOptions{Width: v.opts.Width}))
	}
	return b.String() + "\n"
}

// Status 当前状态行文本
// Status returns the current status line
func (v JobView) Status() string {
	switch {
	case v.result != nil:
		return v.opts.I18n.T("status.done")
	case v.job.Kind == chat.KindImage:
		return v.opts.I18n.T("status.generating", v.Percent())
	case v.opts.Streamed:
		return v.opts.I18n.T("status.streaming")
	default:
		return v.opts.I18n.T("status.polling", v.Attempt(), v.opts.MaxAttempts)
	}
}

// Attempt estimates the current poll attempt from the elapsed time.
func (v JobView) Attempt() int {
	n := int(v.now().Sub(v.started)/v.opts.PollInterval) + 1
	if n > v.opts.MaxAttempts {
		n = v.opts.MaxAttempts
	}
	return n
}

// Percent is the advisory image progress in [0, 100].
func (v JobView) Percent() int {
	if v.message.Progress == nil {
		return 0
	}
	p := *v.message.Progress
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Result returns the outcome once the job has finished.
func (v JobView) Result() (jobs.Result, bool) {
	if v.result == nil {
		return jobs.Result{}, false
	}
	return *v.result, true
}
