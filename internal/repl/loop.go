// Package repl is the line-oriented front-end over a bootstrapped App.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"weave/internal/bootstrap"
	"weave/internal/chat"
	"weave/internal/i18n"
	"weave/internal/jobs"
	"weave/internal/notice"
	"weave/internal/tui"
)

type Options struct {
	// Interactive renders running jobs with the terminal job view.
	Interactive bool
	// Follow waits for each job in the foreground. Without it jobs run in
	// the background and /cancel stops them.
	Follow   bool
	Markdown bool
	Width    int
	Theme    tui.Theme
}

// Loop holds REPL state: the app, the login prompt gate of this view and
// the job currently running, if any.
type Loop struct {
	app  *bootstrap.App
	in   LineInput
	t    *i18n.I18n
	log  *zap.Logger
	opts Options

	// gate is per view so each REPL prompts for login once.
	gate     notice.LoginGate
	signedIn bool

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	running *jobs.Handle
	shown   map[string]time.Time
	bg      sync.WaitGroup
}

func New(app *bootstrap.App, in LineInput, opts Options) *Loop {
	out := in.Writer()
	if out == nil {
		out = io.Discard
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	l := &Loop{
		app:   app,
		in:    in,
		t:     app.I18n,
		log:   app.Logger.Named("repl"),
		opts:  opts,
		out:   out,
		shown: make(map[string]time.Time),
	}
	if app.Auth != nil {
		l.signedIn = app.Auth.SignedIn()
	}
	return l
}

// Run reads and executes lines until /quit or end of input.
func (l *Loop) Run(ctx context.Context) error {
	l.println(l.t.T("repl.welcome", l.app.Config.Backend.Mode, l.app.Generator.Name()))
	l.showNotices()
	defer l.shutdown()

	for {
		line, err := l.in.ReadLine(l.prompt())
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		quit, err := l.Execute(ctx, line)
		if err != nil {
			l.fail(err)
		}
		l.showNotices()
		if quit {
			return nil
		}
	}
}

// Execute runs one input line. Plain text is submitted as a chat prompt.
func (l *Loop) Execute(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, l.submit(ctx, chat.KindChat, line, "", false)
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		l.println(l.t.T("repl.help"))
	case "/list":
		err = l.list(ctx)
	case "/new":
		err = l.newSession(ctx, rest)
	case "/open":
		err = l.open(ctx, rest)
	case "/show":
		err = l.show()
	case "/rename":
		err = l.rename(rest)
	case "/model":
		err = l.model(ctx, rest)
	case "/instruction":
		err = l.instruction(ctx, rest)
	case "/delete":
		err = l.deleteSession(ctx, rest)
	case "/image":
		err = l.image(ctx, rest)
	case "/stream":
		if rest == "" {
			l.usage("/stream <prompt>")
			return false, nil
		}
		err = l.submit(ctx, chat.KindChat, rest, "", true)
	case "/cancel":
		l.cancel()
	case "/folders":
		l.folders()
	case "/folder":
		err = l.folder(ctx, rest)
	case "/move":
		err = l.move(rest)
	case "/project":
		err = l.project(ctx, rest)
	case "/dismiss":
		l.dismiss()
	case "/login":
		err = l.login(ctx, rest)
	default:
		l.println(l.t.T("cmd.unknown", name))
	}
	return false, err
}

func (l *Loop) prompt() string {
	cur, ok := l.app.Store.Current()
	if !ok {
		return "weave> "
	}
	title := cur.Title
	if title == "" {
		title = cur.ID
	}
	if r := []rune(title); len(r) > 24 {
		title = string(r[:23]) + "…"
	}
	return fmt.Sprintf("[%s] %s> ", cur.Kind, title)
}

// shutdown cancels a background job and waits for its report.
func (l *Loop) shutdown() {
	l.mu.Lock()
	h := l.running
	l.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
	l.bg.Wait()
}

// --- output ---

func (l *Loop) println(a ...any) {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	fmt.Fprintln(l.out, a...)
}

func (l *Loop) usage(u string) {
	l.println(l.t.T("cmd.usage", u))
}

// fail reports a command error. Authentication errors go to the global
// notice slot so that the login prompt is shown once per view.
func (l *Loop) fail(err error) {
	switch {
	case errors.Is(err, chat.ErrSuperseded):
		l.log.Debug("selection superseded", zap.Error(err))
	case chat.IsAuth(err):
		l.app.Board.PostGlobal(err)
	default:
		l.println(l.opts.Theme.ErrorStyle.Render("error: " + err.Error()))
	}
}

// showNotices prints notices that have not been shown yet: the global one
// and the one of the current session.
func (l *Loop) showNotices() {
	board := l.app.Board
	if n, ok := board.Global(); ok && l.fresh("", n) {
		if chat.IsAuth(n.Err) {
			if l.gate.ShouldPrompt() {
				key := "auth.required"
				if l.wasSignedIn() {
					key = "auth.expired"
				}
				l.println(l.opts.Theme.NoticeStyle.Render(l.t.T(key)))
			}
		} else {
			l.println(tui.RenderNotice(n, l.t, l.opts.Theme))
		}
	}
	if id := l.app.Store.CurrentID(); id != "" {
		if n, ok := board.Scoped(id); ok && l.fresh(id, n) {
			l.println(tui.RenderNotice(n, l.t, l.opts.Theme))
		}
	}
}

func (l *Loop) wasSignedIn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signedIn
}

func (l *Loop) fresh(key string, n notice.Notice) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.shown[key]; ok && last.Equal(n.At) {
		return false
	}
	l.shown[key] = n.At
	return true
}

func (l *Loop) renderOptions() tui.RenderOptions {
	return tui.RenderOptions{Width: l.opts.Width, Markdown: l.opts.Markdown}
}
