package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"weave/internal/chat"
	"weave/internal/jobs"
)

func newTestView(kind chat.Kind, cancel func(), mutate func(*ViewOptions)) JobView {
	opts := ViewOptions{Theme: PlainTheme(), PollInterval: time.Second, MaxAttempts: 5}
	if mutate != nil {
		mutate(&opts)
	}
	return NewJobView(chat.Job{TaskID: "t1", SessionID: "s1", MessageID: "m1", Kind: kind}, cancel, opts)
}

func TestJobViewPollingStatus(t *testing.T) {
	v := newTestView(chat.KindChat, nil, nil)
	base := v.started
	v.now = func() time.Time { return base.Add(2500 * time.Millisecond) }
	if v.Attempt() != 3 {
		t.Fatalf("attempt=%d", v.Attempt())
	}
	if got := v.View(); !strings.Contains(got, "Waiting for result (3/5)") {
		t.Fatalf("view=%q", got)
	}

	v.now = func() time.Time { return base.Add(time.Minute) }
	if v.Attempt() != 5 {
		t.Fatalf("attempt should cap at max, got %d", v.Attempt())
	}
}

func TestJobViewImageProgress(t *testing.T) {
	v := newTestView(chat.KindImage, nil, nil)
	p := 42
	m, _ := v.Update(MessageMsg(chat.Message{ID: "m1", Progress: &p, Streaming: true}))
	updated := m.(JobView)
	if updated.Percent() != 42 {
		t.Fatalf("percent=%d", updated.Percent())
	}
	if !strings.Contains(updated.View(), "Generating image 42%") {
		t.Fatalf("view=%q", updated.View())
	}

	// other messages of the session are ignored
	other := 90
	m, _ = updated.Update(MessageMsg(chat.Message{ID: "m2", Progress: &other}))
	if m.(JobView).Percent() != 42 {
		t.Fatalf("foreign message changed progress")
	}
}

func TestJobViewStreamShowsPartialText(t *testing.T) {
	v := newTestView(chat.KindChat, nil, func(o *ViewOptions) { o.Streamed = true })
	m, _ := v.Update(MessageMsg(chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "Echo: he", Streaming: true}))
	got := m.(JobView).View()
	if !strings.Contains(got, "Streaming...") || !strings.Contains(got, "Echo: he") {
		t.Fatalf("view=%q", got)
	}
}

func TestJobViewCancelKeyCallsCancelOnce(t *testing.T) {
	calls := 0
	v := newTestView(chat.KindChat, func() { calls++ }, nil)

	m, _ := v.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	updated := m.(JobView)
	if calls != 1 {
		t.Fatalf("cancel calls=%d", calls)
	}
	if !strings.Contains(updated.View(), "cancelling") {
		t.Fatalf("view=%q", updated.View())
	}
}

func TestJobViewDoneQuitsWithFinalMessage(t *testing.T) {
	v := newTestView(chat.KindChat, nil, nil)
	res := jobs.Result{
		Outcome: chat.OutcomeSuccess,
		Message: chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "Echo: hi"},
	}
	m, cmd := v.Update(DoneMsg(res))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	updated := m.(JobView)
	got, ok := updated.Result()
	if !ok || got.Outcome != chat.OutcomeSuccess {
		t.Fatalf("result=%+v ok=%v", got, ok)
	}
	if !strings.Contains(updated.View(), "Echo: hi") {
		t.Fatalf("view=%q", updated.View())
	}
	if updated.Status() != "Done" {
		t.Fatalf("status=%q", updated.Status())
	}
	// a late cancel key is ignored
	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.(JobView).cancelled {
		t.Fatal("cancel after completion should be ignored")
	}
}

func TestJobViewInitTicks(t *testing.T) {
	v := newTestView(chat.KindChat, nil, nil)
	if v.Init() == nil {
		t.Fatal("Init should start the spinner")
	}
}
