package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/backend"
	"weave/internal/backend/memory"
	"weave/internal/chat"
)

// gate blocks GetSession for chosen ids until released.
type gate struct {
	mu      sync.Mutex
	blocked map[string]chan struct{}
	entered chan string
}

func newGate(ids ...string) *gate {
	g := &gate{blocked: make(map[string]chan struct{}), entered: make(chan string, 8)}
	for _, id := range ids {
		g.blocked[id] = make(chan struct{})
	}
	return g
}

func (g *gate) hook(ctx context.Context, id string) error {
	g.mu.Lock()
	ch, ok := g.blocked[id]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	g.entered <- id
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.blocked[id]; ok {
		close(ch)
		delete(g.blocked, id)
	}
}

func newStore(t *testing.T, b *memory.Backend) *Store {
	t.Helper()
	s := New(b, Options{DebounceWindow: 40 * time.Millisecond})
	t.Cleanup(s.Close)
	return s
}

func TestSelectLatestWins(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	b := memory.New(memory.WithHooks(memory.Hooks{BeforeGet: g.hook}))
	a := b.Seed(chat.Session{Kind: chat.KindChat, Title: "a"})
	bb := b.Seed(chat.Session{Kind: chat.KindChat, Title: "b"})
	g.blocked[a.ID] = make(chan struct{})
	s := newStore(t, b)
	_, err := s.List(ctx)
	require.NoError(t, err)

	errA := make(chan error, 1)
	go func() {
		_, err := s.Select(ctx, a.ID)
		errA <- err
	}()
	require.Equal(t, a.ID, <-g.entered)

	got, err := s.Select(ctx, bb.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Title)

	g.release(a.ID)
	assert.ErrorIs(t, <-errA, chat.ErrSuperseded)

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, bb.ID, cur.ID)
	assert.True(t, cur.Hydrated)
}

func TestRefreshOfNonCurrentMergesSummaryOnly(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := b.Seed(chat.Session{Kind: chat.KindChat, Title: "a"})
	other := b.Seed(chat.Session{Kind: chat.KindChat, Title: "other"})
	s := newStore(t, b)
	_, err := s.List(ctx)
	require.NoError(t, err)
	_, err = s.Select(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.Select(ctx, other.ID)
	require.NoError(t, err)

	// a changes remotely while the user looks at other
	_, err = b.PatchSession(ctx, a.ID, chat.Patch{Title: chat.String("renamed")}.SetMessages([]chat.Message{{ID: "m1", Content: "remote"}}))
	require.NoError(t, err)

	still, err := s.Refresh(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, still)

	local, ok := s.Session(a.ID)
	require.True(t, ok)
	assert.Equal(t, "renamed", local.Title)
	assert.Empty(t, local.Messages)
	assert.False(t, local.Hydrated)

	cur, _ := s.Current()
	assert.Equal(t, other.ID, cur.ID)
}

func TestRefreshKeepsStreamingPlaceholder(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := b.Seed(chat.Session{Kind: chat.KindChat, Title: "a", Messages: []chat.Message{{ID: "u1", Role: chat.RoleUser, Content: "hi"}}})
	s := newStore(t, b)
	_, err := s.Select(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, s.AppendLocal(a.ID, chat.Message{ID: "ph", Role: chat.RoleAssistant, Streaming: true}))
	still, err := s.Refresh(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, still)

	cur, _ := s.Current()
	require.Len(t, cur.Messages, 2)
	assert.Equal(t, "u1", cur.Messages[0].ID)
	assert.Equal(t, "ph", cur.Messages[1].ID)
}

func TestUpdateMessageRejectsFinalizedContent(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := newStore(t, b)
	sess, err := s.Create(ctx, chat.KindChat, "")
	require.NoError(t, err)
	require.NoError(t, s.AppendLocal(sess.ID, chat.Message{ID: "ph", Streaming: true}))

	require.NoError(t, s.UpdateMessage(sess.ID, "ph", func(m *chat.Message) { m.Content = "partial" }))
	require.NoError(t, s.UpdateMessage(sess.ID, "ph", func(m *chat.Message) {
		m.Content = "done"
		m.Streaming = false
	}))
	err = s.UpdateMessage(sess.ID, "ph", func(m *chat.Message) { m.Content = "late" })
	assert.ErrorIs(t, err, chat.ErrFinalized)

	err = s.UpdateMessage(sess.ID, "ph", func(m *chat.Message) { m.Failed = true })
	assert.NoError(t, err, "flags may change after finalization")

	got, _ := s.Session(sess.ID)
	assert.Equal(t, "done", got.Messages[0].Content)
}

func TestCreateDoesNotStealNewerSelection(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{})
	b := memory.New(memory.WithHooks(memory.Hooks{BeforeCreate: func(context.Context, backend.CreateSessionRequest) error {
		close(entered)
		<-release
		return nil
	}}))
	target := b.Seed(chat.Session{Kind: chat.KindImage, Title: "target"})
	s := newStore(t, b)

	done := make(chan chat.Session, 1)
	go func() {
		created, err := s.Create(ctx, chat.KindChat, "late")
		assert.NoError(t, err)
		done <- created
	}()
	<-entered
	_, err := s.Select(ctx, target.ID)
	require.NoError(t, err)
	close(release)
	created := <-done

	assert.Equal(t, target.ID, s.CurrentID())
	_, ok := s.Session(created.ID)
	assert.True(t, ok, "created session is still listed")
}

func TestCreateDetachedKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New())
	first, err := s.Create(ctx, chat.KindChat, "first")
	require.NoError(t, err)
	_, err = s.Create(ctx, chat.KindImage, "step", Detached(), WithModel(chat.DefaultImageModel))
	require.NoError(t, err)

	assert.Equal(t, first.ID, s.CurrentID())
	assert.Len(t, s.Sessions(), 2)
}

func TestDeleteCancelsPendingEdit(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := newStore(t, b)
	sess, err := s.Create(ctx, chat.KindChat, "x")
	require.NoError(t, err)

	var events []Event
	var mu sync.Mutex
	s.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, s.Edit(sess.ID, chat.Patch{Title: chat.String("y")}))
	require.NoError(t, s.Delete(ctx, sess.ID))
	time.Sleep(120 * time.Millisecond)

	assert.Zero(t, b.Calls("patch"))
	assert.Empty(t, s.CurrentID())
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, Event{Type: EventDeleted, SessionID: sess.ID}, events[len(events)-1])
}

func TestSwitchFlushesPendingEditOfPrevious(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := newStore(t, b)
	a, err := s.Create(ctx, chat.KindChat, "a")
	require.NoError(t, err)
	require.NoError(t, s.Edit(a.ID, chat.Patch{Title: chat.String("a2")}))

	_, err = s.Create(ctx, chat.KindChat, "b")
	require.NoError(t, err)
	// written on the switch, not after the window
	assert.Equal(t, 1, b.Calls("patch"))
	remote, err := b.GetSession(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", remote.Title)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, b.Calls("patch"))

	require.NoError(t, s.Edit(s.CurrentID(), chat.Patch{Title: chat.String("b2")}))
	require.Eventually(t, func() bool { return b.Calls("patch") == 2 }, time.Second, 10*time.Millisecond)
}

func TestSelectAwayKeepsEditedMessages(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := newStore(t, b)
	other, err := s.Create(ctx, chat.KindChat, "other")
	require.NoError(t, err)
	a, err := s.Create(ctx, chat.KindChat, "a")
	require.NoError(t, err)

	msgs := []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Content: "hello"},
		{ID: "a1", Role: chat.RoleAssistant, Content: "Echo: hello"},
	}
	require.NoError(t, s.AppendLocal(a.ID, msgs...))
	require.NoError(t, s.Edit(a.ID, chat.Patch{}.SetMessages(msgs)))

	_, err = s.Select(ctx, other.ID)
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	back, err := s.Select(ctx, a.ID)
	require.NoError(t, err)

	require.Len(t, back.Messages, 2)
	assert.Equal(t, "Echo: hello", back.Messages[1].Content)
	remote, err := b.GetSession(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, remote.Messages, 2)
	assert.Equal(t, 1, b.Calls("patch"))
}

func TestRefreshKeepsPendingEdit(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := New(b, Options{DebounceWindow: 200 * time.Millisecond})
	t.Cleanup(s.Close)
	sess, err := s.Create(ctx, chat.KindChat, "orig")
	require.NoError(t, err)
	require.NoError(t, s.Edit(sess.ID, chat.Patch{Title: chat.String("edited")}))

	still, err := s.Refresh(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, still)
	got, _ := s.Current()
	assert.Equal(t, "edited", got.Title)

	_, err = s.List(ctx)
	require.NoError(t, err)
	got, _ = s.Current()
	assert.Equal(t, "edited", got.Title)

	require.Eventually(t, func() bool {
		remote, err := b.GetSession(ctx, sess.ID)
		return err == nil && remote.Title == "edited"
	}, time.Second, 10*time.Millisecond)
	got, _ = s.Current()
	assert.Equal(t, "edited", got.Title)
}

func TestPatchThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New())
	sess, err := s.Create(ctx, chat.KindChat, "before")
	require.NoError(t, err)

	_, err = s.Patch(ctx, sess.ID, chat.Patch{Title: chat.String("after")})
	require.NoError(t, err)
	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
}

func TestEditBurstWritesLastTitleOnce(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := newStore(t, b)
	sess, err := s.Create(ctx, chat.KindChat, "t0")
	require.NoError(t, err)

	for _, title := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.Edit(sess.ID, chat.Patch{Title: chat.String(title)}))
	}
	require.Eventually(t, func() bool { return b.Calls("patch") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.Calls("patch"))

	remote, err := b.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "t3", remote.Title)
}

func TestPatchFailureKeepsLocalChange(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("offline")
	b := memory.New(memory.WithHooks(memory.Hooks{BeforePatch: func(context.Context, string, chat.Patch) error { return boom }}))
	s := newStore(t, b)
	sess, err := s.Create(ctx, chat.KindChat, "x")
	require.NoError(t, err)

	_, err = s.Patch(ctx, sess.ID, chat.Patch{Model: chat.String("openai/gpt-4o")})
	assert.ErrorIs(t, err, boom)
	got, _ := s.Session(sess.ID)
	assert.Equal(t, "openai/gpt-4o", got.Model)
}

func TestListKeepsHydratedMessages(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	a := b.Seed(chat.Session{Kind: chat.KindChat, Title: "a", Messages: []chat.Message{{ID: "u1", Content: "hi"}}})
	s := newStore(t, b)
	_, err := s.Select(ctx, a.ID)
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Messages, 1)
	assert.True(t, s.IsCurrent(a.ID))
}
