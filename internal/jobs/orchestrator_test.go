package jobs

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/backend/memory"
	"weave/internal/chat"
	"weave/internal/i18n"
	"weave/internal/metrics"
	"weave/internal/notice"
	"weave/internal/provider"
	"weave/internal/session"
)

type fixture struct {
	be    *memory.Backend
	store *session.Store
	orch  *Orchestrator
	board *notice.Board
	m     *metrics.Metrics
}

func setup(t *testing.T, mutate func(*Options), opts ...memory.Option) *fixture {
	t.Helper()
	return setupWindow(t, 20*time.Millisecond, mutate, opts...)
}

func setupWindow(t *testing.T, window time.Duration, mutate func(*Options), opts ...memory.Option) *fixture {
	t.Helper()
	be := memory.New(opts...)
	store := session.New(be, session.Options{DebounceWindow: window})
	t.Cleanup(store.Close)
	board := notice.NewBoard()
	m := metrics.New()
	o := Options{
		PollInterval:     2 * time.Millisecond,
		ProgressInterval: time.Millisecond,
		Rand:             rand.New(rand.NewPCG(7, 11)),
		Board:            board,
		I18n:             i18n.New("en"),
		Metrics:          m,
		Source:           provider.Streamer{Gen: &provider.MockGenerator{}},
	}
	if mutate != nil {
		mutate(&o)
	}
	return &fixture{be: be, store: store, orch: New(be, store, o), board: board, m: m}
}

func (f *fixture) session(t *testing.T, kind chat.Kind) chat.Session {
	t.Helper()
	s, err := f.store.Create(context.Background(), kind, "")
	require.NoError(t, err)
	return s
}

func wait(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, _ := h.Wait(ctx)
	require.NotEmpty(t, res.Outcome, "job did not finish")
	return res
}

func TestChatSuccessRefreshesCurrent(t *testing.T) {
	f := setup(t, nil, memory.WithScript(memory.SucceedAfter(2)))
	s := f.session(t, chat.KindChat)

	h, err := f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, f.orch.Busy())

	res := wait(t, h)
	require.NoError(t, res.Err)
	assert.Equal(t, chat.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.Polls)
	assert.True(t, res.StillCurrent)
	assert.False(t, f.orch.Busy())

	cur, ok := f.store.Current()
	require.True(t, ok)
	assert.Equal(t, "hi", cur.Title)
	require.Len(t, cur.Messages, 2)
	assert.Equal(t, "Echo: hi", cur.Messages[1].Content)
	assert.False(t, cur.Messages[1].Streaming)
	_, posted := f.board.Scoped(s.ID)
	assert.False(t, posted)
}

func TestTimeoutAfterExactlyMaxAttempts(t *testing.T) {
	f := setup(t, func(o *Options) { o.PollInterval = time.Millisecond }, memory.WithScript(memory.NeverFinish()))
	s := f.session(t, chat.KindChat)

	h, err := f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "slow"})
	require.NoError(t, err)
	res := wait(t, h)

	assert.Equal(t, chat.OutcomeTimeout, res.Outcome)
	var te *chat.JobTimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, DefaultMaxAttempts, te.Attempts)
	assert.Equal(t, DefaultMaxAttempts, f.be.Polls(h.Job.TaskID), "no poll beyond the budget")

	n, ok := f.board.Scoped(s.ID)
	require.True(t, ok)
	assert.ErrorAs(t, n.Err, &te)

	// the failed placeholder carries the localized timeout text and survives refresh
	cur, _ := f.store.Current()
	last := cur.Messages[len(cur.Messages)-1]
	assert.True(t, last.Failed)
	assert.Equal(t, i18n.New("en").T("job.timeout"), last.Content)
}

func TestFailureIsPostedForCurrentSession(t *testing.T) {
	f := setup(t, nil, memory.WithScript(memory.FailAfter(1, "quota exceeded")))
	s := f.session(t, chat.KindChat)

	h, err := f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "x"})
	require.NoError(t, err)
	res := wait(t, h)

	assert.Equal(t, chat.OutcomeFailure, res.Outcome)
	var jf *chat.JobFailureError
	require.ErrorAs(t, res.Err, &jf)
	assert.Equal(t, "quota exceeded", jf.Message)
	assert.Contains(t, res.Message.Content, "quota exceeded")
	_, ok := f.board.Scoped(s.ID)
	assert.True(t, ok)
}

func TestOutcomeForSwitchedAwaySessionIsNotSurfaced(t *testing.T) {
	release := make(chan struct{})
	f := setup(t, nil,
		memory.WithScript(memory.FailAfter(1, "boom")),
		memory.WithHooks(memory.Hooks{BeforePoll: func(ctx context.Context, _ string) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}),
	)
	a := f.session(t, chat.KindChat)
	h, err := f.orch.Submit(context.Background(), Request{SessionID: a.ID, Kind: chat.KindChat, Prompt: "for a"})
	require.NoError(t, err)

	b := f.session(t, chat.KindChat)
	require.Equal(t, b.ID, f.store.CurrentID())
	close(release)
	res := wait(t, h)

	assert.Equal(t, chat.OutcomeFailure, res.Outcome)
	assert.False(t, res.StillCurrent)
	_, ok := f.board.Scoped(a.ID)
	assert.False(t, ok, "error for a non-current session is not shown")

	cur, _ := f.store.Current()
	assert.Equal(t, b.ID, cur.ID)
	assert.Empty(t, cur.Messages)
	stale, _ := f.store.Session(a.ID)
	assert.False(t, stale.Hydrated)
}

func TestCancelStopsPollingWithoutRefresh(t *testing.T) {
	f := setup(t, func(o *Options) { o.PollInterval = 5 * time.Millisecond }, memory.WithScript(memory.NeverFinish()))
	s := f.session(t, chat.KindChat)

	h, err := f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "stop me"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.be.Polls(h.Job.TaskID) >= 2 }, time.Second, time.Millisecond)
	h.Cancel()
	h.Cancel()
	res := wait(t, h)

	assert.Equal(t, chat.OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, "[cancelled]", res.Message.Content)
	polls := f.be.Polls(h.Job.TaskID)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, f.be.Polls(h.Job.TaskID))
	assert.Zero(t, f.be.Calls("get"), "cancelled job never refreshes")
	_, ok := f.board.Scoped(s.ID)
	assert.False(t, ok)
	assert.False(t, f.orch.Busy())
}

func TestSingleFlight(t *testing.T) {
	f := setup(t, nil, memory.WithScript(memory.NeverFinish()))
	a := f.session(t, chat.KindChat)
	b := f.session(t, chat.KindChat)

	h, err := f.orch.Submit(context.Background(), Request{SessionID: a.ID, Kind: chat.KindChat, Prompt: "one"})
	require.NoError(t, err)
	defer h.Cancel()

	_, err = f.orch.Submit(context.Background(), Request{SessionID: b.ID, Kind: chat.KindChat, Prompt: "two"})
	assert.ErrorIs(t, err, chat.ErrBusy)
	assert.Equal(t, 1, f.be.Calls("submit"))
}

func TestKindMismatchRejectedBeforeNetwork(t *testing.T) {
	f := setup(t, nil)
	s := f.session(t, chat.KindImage)

	_, err := f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "hi"})
	assert.ErrorIs(t, err, chat.ErrKindMismatch)
	assert.True(t, chat.IsValidation(err))
	assert.Zero(t, f.be.Calls("submit"))
	assert.False(t, f.orch.Busy())

	_, err = f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindImage, Prompt: "   "})
	assert.True(t, chat.IsValidation(err))
}

func TestAuthErrorIsGlobal(t *testing.T) {
	f := setup(t, nil, memory.WithHooks(memory.Hooks{BeforePoll: func(context.Context, string) error {
		return &chat.AuthError{Reason: "expired"}
	}}))
	a := f.session(t, chat.KindChat)
	h, err := f.orch.Submit(context.Background(), Request{SessionID: a.ID, Kind: chat.KindChat, Prompt: "x"})
	require.NoError(t, err)
	res := wait(t, h)

	assert.True(t, chat.IsAuth(res.Err))
	n, ok := f.board.Global()
	require.True(t, ok)
	assert.True(t, chat.IsAuth(n.Err))
	_, ok = f.board.Scoped(a.ID)
	assert.False(t, ok)
}

func TestSubmitFailureFinalizesPlaceholder(t *testing.T) {
	boom := &chat.NetworkError{Op: "submit", Status: 502, Err: errors.New("bad gateway")}
	f := setup(t, nil, memory.WithHooks(memory.Hooks{BeforeSubmit: func(context.Context, string) error { return boom }}))
	s := f.session(t, chat.KindChat)

	_, err := f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "x"})
	require.ErrorIs(t, err, boom)
	assert.False(t, f.orch.Busy())

	cur, _ := f.store.Current()
	require.Len(t, cur.Messages, 2)
	for _, m := range cur.Messages {
		assert.True(t, m.Failed)
		assert.False(t, m.Streaming)
	}
	_, ok := f.board.Scoped(s.ID)
	assert.True(t, ok)
}

func TestImageProgressSnapsToHundred(t *testing.T) {
	f := setup(t, nil, memory.WithScript(memory.SucceedAfter(5)))
	s := f.session(t, chat.KindImage)

	h, err := f.orch.Submit(context.Background(), Request{SessionID: s.ID, Kind: chat.KindImage, Prompt: "a fox", AspectRatio: "16:9"})
	require.NoError(t, err)
	res := wait(t, h)

	require.Equal(t, chat.OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Message.Progress)
	assert.Equal(t, 100, *res.Message.Progress)
	assert.True(t, strings.HasPrefix(res.Message.MediaURL, "data:image/svg+xml"))

	cur, _ := f.store.Current()
	require.Len(t, cur.Records, 1)
}

func TestStreamPersistsThroughDebounce(t *testing.T) {
	f := setup(t, nil)
	s := f.session(t, chat.KindChat)

	h, err := f.orch.Stream(context.Background(), StreamRequest{SessionID: s.ID, Prompt: "hello"})
	require.NoError(t, err)
	res := wait(t, h)

	require.NoError(t, res.Err)
	assert.Equal(t, "Echo: hello", res.Message.Content)
	require.Eventually(t, func() bool { return f.be.Calls("patch") == 1 }, time.Second, 5*time.Millisecond)

	remote, err := f.be.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, remote.Messages, 2)
	assert.Equal(t, "Echo: hello", remote.Messages[1].Content)
}

func TestStreamReplySurvivesSwitchAndBack(t *testing.T) {
	ctx := context.Background()
	f := setupWindow(t, 200*time.Millisecond, nil)
	other := f.session(t, chat.KindChat)
	s := f.session(t, chat.KindChat)

	h, err := f.orch.Stream(ctx, StreamRequest{SessionID: s.ID, Prompt: "hello"})
	require.NoError(t, err)
	res := wait(t, h)
	require.Equal(t, chat.OutcomeSuccess, res.Outcome)

	_, err = f.store.Select(ctx, other.ID)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	back, err := f.store.Select(ctx, s.ID)
	require.NoError(t, err)

	require.Len(t, back.Messages, 2)
	assert.Equal(t, "hello", back.Messages[0].Content)
	assert.Equal(t, "Echo: hello", back.Messages[1].Content)
	remote, err := f.be.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, remote.Messages, 2)
	assert.Equal(t, 1, f.be.Calls("patch"))
}

func TestPendingEditSurvivesJobRefresh(t *testing.T) {
	ctx := context.Background()
	f := setupWindow(t, 300*time.Millisecond, nil, memory.WithScript(memory.SucceedAfter(1)))
	s, err := f.store.Create(ctx, chat.KindChat, "orig")
	require.NoError(t, err)
	require.NoError(t, f.store.Edit(s.ID, chat.Patch{Title: chat.String("edited")}))

	h, err := f.orch.Submit(ctx, Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "hi"})
	require.NoError(t, err)
	res := wait(t, h)
	require.Equal(t, chat.OutcomeSuccess, res.Outcome)

	cur, _ := f.store.Current()
	assert.Equal(t, "edited", cur.Title)
	require.Len(t, cur.Messages, 2)

	require.Eventually(t, func() bool {
		remote, err := f.be.GetSession(ctx, s.ID)
		return err == nil && remote.Title == "edited"
	}, 2*time.Second, 10*time.Millisecond)
	cur, _ = f.store.Current()
	assert.Equal(t, "edited", cur.Title)
}

func TestSameSubmissionTwiceIsTwoJobs(t *testing.T) {
	f := setup(t, nil, memory.WithScript(memory.SucceedAfter(1)))
	s := f.session(t, chat.KindChat)
	req := Request{SessionID: s.ID, Kind: chat.KindChat, Prompt: "again"}

	h1, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	wait(t, h1)
	h2, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	wait(t, h2)

	assert.NotEqual(t, h1.Job.TaskID, h2.Job.TaskID)
	assert.NotEqual(t, h1.Job.MessageID, h2.Job.MessageID)
	cur, _ := f.store.Current()
	require.Len(t, cur.Messages, 4)
	assert.Equal(t, "Echo: again", cur.Messages[1].Content)
	assert.Equal(t, "Echo: again", cur.Messages[3].Content)
}

func TestStreamCancelKeepsPartialContent(t *testing.T) {
	f := setup(t, func(o *Options) {
		o.Source = provider.Streamer{Gen: &provider.MockGenerator{ChunkDelay: 30 * time.Millisecond}}
	})
	s := f.session(t, chat.KindChat)

	h, err := f.orch.Stream(context.Background(), StreamRequest{SessionID: s.ID, Prompt: "one two three four"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cur, _ := f.store.Current()
		return len(cur.Messages) == 2 && cur.Messages[1].Content != ""
	}, time.Second, time.Millisecond)
	h.Cancel()
	res := wait(t, h)

	assert.Equal(t, chat.OutcomeCancelled, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Message.Content, "Echo: "))
	assert.True(t, strings.HasSuffix(res.Message.Content, "\n\n[cancelled]"))
	assert.NotContains(t, res.Message.Content, "four")
	assert.True(t, res.Message.Failed)
}
