package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"weave/internal/backend/memory"
	"weave/internal/bootstrap"
	"weave/internal/chat"
	"weave/internal/config"
	"weave/internal/folder"
	"weave/internal/i18n"
	"weave/internal/jobs"
	"weave/internal/notice"
	"weave/internal/planner"
	"weave/internal/provider"
	"weave/internal/session"
	"weave/internal/tui"
)

func newTestApp(t *testing.T, script memory.Script) *bootstrap.App {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.Mode = "memory"
	cfg.Provider.Mock = true
	cfg.Jobs.PollIntervalMS = 2

	be := memory.New(memory.WithScript(script))
	loc := i18n.New("en")
	board := notice.NewBoard()
	store := session.New(be, session.Options{DebounceWindow: 10 * time.Millisecond})
	gen := &provider.MockGenerator{}
	app := &bootstrap.App{
		Config:    cfg,
		Logger:    zap.NewNop(),
		I18n:      loc,
		Backend:   be,
		Generator: gen,
		Board:     board,
		Store:     store,
	}
	app.Jobs = jobs.New(be, store, jobs.Options{
		PollInterval:     2 * time.Millisecond,
		ProgressInterval: time.Millisecond,
		Source:           provider.Streamer{Gen: gen},
		Board:            board,
		I18n:             loc,
	})
	app.Folders = folder.New(be, store, folder.Options{Planner: planner.StaticPlanner{}, I18n: loc})
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func runScript(t *testing.T, app *bootstrap.App, opts Options, lines ...string) (*Loop, string) {
	t.Helper()
	var out bytes.Buffer
	opts.Theme = tui.PlainTheme()
	in := NewBasicInput(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	l := New(app, in, opts)
	require.NoError(t, l.Run(context.Background()))
	return l, out.String()
}

func TestChatRoundTrip(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(2))
	_, out := runScript(t, app, Options{Follow: true}, "/new chat Notes", "hello", "/show", "/quit")

	assert.Contains(t, out, "Created chat session")
	assert.Contains(t, out, "Echo: hello")
	assert.Contains(t, out, "> hello")

	cur, ok := app.Store.Current()
	require.True(t, ok)
	assert.Equal(t, "Notes", cur.Title)
	require.Len(t, cur.Messages, 2)
	assert.Equal(t, "Echo: hello", cur.Messages[1].Content)
}

func TestPromptWithoutSession(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	_, out := runScript(t, app, Options{Follow: true}, "hi", "/rename x")
	assert.Equal(t, 2, strings.Count(out, "No session selected"))
}

func TestKindMismatch(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	_, out := runScript(t, app, Options{Follow: true}, "/new image", "hello")
	assert.Contains(t, out, "This session is a image session.")
	assert.False(t, app.Jobs.Busy())
}

func TestImageWithAspectRatio(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(2))
	_, out := runScript(t, app, Options{Follow: true}, "/new image", "/image a red fox 16:9")

	assert.Contains(t, out, "a red fox")
	assert.Contains(t, out, "data:image/svg+xml")
	cur, _ := app.Store.Current()
	require.NotEmpty(t, cur.Messages)
	last := cur.Messages[len(cur.Messages)-1]
	assert.Equal(t, chat.MessageImage, last.Type)
	assert.NotEmpty(t, last.MediaURL)
}

func TestStreamCommand(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	_, out := runScript(t, app, Options{Follow: true}, "/new chat", "/stream tell me more", "/stream")
	assert.Contains(t, out, "Echo: tell me more")
	assert.Contains(t, out, "Usage: /stream <prompt>")
}

func TestRenameModelAndInstruction(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	_, out := runScript(t, app, Options{Follow: true},
		"/new chat",
		"/rename Plans",
		"/model openai/gpt-4o",
		"/model fal-ai/imagen4/preview",
		"/model",
		"/instruction Answer in haiku",
	)
	assert.Contains(t, out, `Renamed to "Plans"`)
	assert.Contains(t, out, "Model set to openai/gpt-4o")
	assert.Contains(t, out, "Unknown chat model")
	assert.Contains(t, out, "* openai/gpt-4o")

	cur, _ := app.Store.Current()
	assert.Equal(t, "Plans", cur.Title)
	assert.Equal(t, "openai/gpt-4o", cur.Model)
	assert.Equal(t, "Answer in haiku", cur.Instruction)

	// the debounced rename reaches the backend after the window
	require.Eventually(t, func() bool {
		remote, err := app.Backend.GetSession(context.Background(), cur.ID)
		return err == nil && remote.Title == "Plans"
	}, time.Second, 5*time.Millisecond)
}

func TestOpenAndDelete(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	first, err := app.Store.Create(context.Background(), chat.KindChat, "first")
	require.NoError(t, err)

	_, out := runScript(t, app, Options{Follow: true}, "/new chat second", "/open "+first.ID, "/list", "/delete "+first.ID, "/list")
	assert.Contains(t, out, "Opened "+first.ID)
	assert.Contains(t, out, "* "+first.ID)
	assert.Contains(t, out, "Deleted "+first.ID)

	_, ok := app.Store.Session(first.ID)
	assert.False(t, ok)
}

func TestFoldersAndProject(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	_, out := runScript(t, app, Options{Follow: true},
		"/new chat loose",
		"/folder new Work",
		"/project launch a podcast",
		"/folders",
		"/folder",
	)
	assert.Contains(t, out, "Created folder Work")
	assert.Contains(t, out, `Project "launch a podcast" created with 3 steps`)
	assert.Contains(t, out, "Usage: /folder new <name> | /folder rm <id>")

	folders := app.Folders.Folders()
	require.Len(t, folders, 2)
	var work chat.Folder
	for _, f := range folders {
		if f.Name == "Work" {
			work = f
		}
	}
	require.NotEmpty(t, work.ID)

	l, out := runScript(t, app, Options{Follow: true}, "/move "+work.ID, "/folder rm "+work.ID)
	_ = l
	assert.Contains(t, out, "Moved to folder "+work.ID)
	assert.Contains(t, out, "Deleted folder "+work.ID)
	assert.Len(t, app.Folders.Folders(), 1)
}

func TestFailedJobShowsNoticeOnceAndDismiss(t *testing.T) {
	app := newTestApp(t, memory.FailAfter(1, "quota"))
	_, out := runScript(t, app, Options{Follow: true}, "/new chat", "hello", "/list", "/dismiss")

	assert.Contains(t, out, "Generation failed: quota")
	assert.Equal(t, 1, strings.Count(out, "error: job failed: quota (/dismiss)"))
	assert.Contains(t, out, "Dismissed.")
	_, ok := app.Board.Scoped(app.Store.CurrentID())
	assert.False(t, ok)
}

func TestBackgroundJobBusyAndCancel(t *testing.T) {
	app := newTestApp(t, memory.NeverFinish())
	_, out := runScript(t, app, Options{Follow: false}, "/new chat", "hello", "again", "/cancel")

	assert.Contains(t, out, "Started chat job")
	assert.Contains(t, out, "A generation is already running")
	assert.Contains(t, out, "Cancel requested.")
	assert.Contains(t, out, "[cancelled]")
	assert.False(t, app.Jobs.Busy())
}

func TestCancelWithoutJob(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	_, out := runScript(t, app, Options{Follow: true}, "/cancel", "/bogus", "/help")
	assert.Contains(t, out, "Nothing is running.")
	assert.Contains(t, out, "Unknown command: /bogus")
	assert.Contains(t, out, "/project <goal>")
}

func TestLoginPromptGatedPerView(t *testing.T) {
	app := newTestApp(t, memory.SucceedAfter(1))
	var out bytes.Buffer
	l := New(app, NewBasicInput(strings.NewReader(""), &out), Options{Theme: tui.PlainTheme()})

	app.Board.PostGlobal(&chat.AuthError{Reason: "token expired"})
	l.showNotices()
	app.Board.PostGlobal(&chat.AuthError{Reason: "token expired"})
	l.showNotices()
	assert.Equal(t, 1, strings.Count(out.String(), "Please log in to continue."))

	// a second view prompts on its own
	var other bytes.Buffer
	l2 := New(app, NewBasicInput(strings.NewReader(""), &other), Options{Theme: tui.PlainTheme()})
	l2.showNotices()
	assert.Contains(t, other.String(), "Please log in to continue.")

	quit, err := l.Execute(context.Background(), "/login token")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "Login is only used by the http backend.")
}
