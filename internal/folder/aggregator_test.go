package folder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/backend"
	"weave/internal/backend/memory"
	"weave/internal/chat"
	"weave/internal/i18n"
	"weave/internal/planner"
	"weave/internal/session"
)

type fixture struct {
	be    *memory.Backend
	store *session.Store
	agg   *Aggregator
}

func setup(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	be := memory.New(opts...)
	store := session.New(be, session.Options{DebounceWindow: 20 * time.Millisecond})
	agg := New(be, store, Options{Planner: planner.StaticPlanner{}, I18n: i18n.New("en")})
	t.Cleanup(func() {
		agg.Close()
		store.Close()
	})
	return &fixture{be: be, store: store, agg: agg}
}

func TestCreateProject(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	current, err := f.store.Create(ctx, chat.KindChat, "mine")
	require.NoError(t, err)

	proj, err := f.agg.CreateProject(ctx, "coffee shorts")
	require.NoError(t, err)

	assert.Equal(t, chat.FolderPlanned, proj.Folder.Type)
	assert.Equal(t, "coffee shorts", proj.Folder.Name)
	require.Len(t, proj.Sessions, 3)
	assert.Equal(t, current.ID, f.store.CurrentID(), "step sessions are not selected")

	tr := i18n.New("en")
	for i, s := range proj.Sessions {
		assert.Equal(t, proj.Folder.ID, s.FolderID)
		require.Len(t, s.Messages, 1)
		assert.Equal(t, fmt.Sprintf("welcome-%s-step%d", proj.Folder.ID, i+1), s.Messages[0].ID)
		assert.Equal(t, chat.RoleAssistant, s.Messages[0].Role)
		assert.Contains(t, s.Messages[0].Content, s.Title)
		assert.Len(t, s.RecommendedPrompts, 3)
	}
	assert.True(t, strings.HasSuffix(proj.Sessions[0].Instruction, tr.T("project.next_step", 3, "Script")))
	assert.True(t, strings.HasSuffix(proj.Sessions[2].Instruction, tr.T("project.final_step")))
	assert.Equal(t, chat.KindImage, proj.Sessions[2].Kind)
	assert.Contains(t, proj.Sessions[2].RecommendedPrompts[0], "Visuals")

	folders := f.agg.Folders()
	require.Len(t, folders, 1)
	assert.Len(t, folders[0].SessionIDs, 3)
	assert.Len(t, f.agg.Sessions(proj.Folder.ID), 3)
}

func TestCreateProjectPartialFailureKeepsEarlierSteps(t *testing.T) {
	ctx := context.Background()
	var creates atomic.Int32
	boom := errors.New("db locked")
	f := setup(t, memory.WithHooks(memory.Hooks{BeforeCreate: func(context.Context, backend.CreateSessionRequest) error {
		if creates.Add(1) == 2 {
			return boom
		}
		return nil
	}}))

	proj, err := f.agg.CreateProject(ctx, "coffee shorts")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var pe *PartialError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Created)
	assert.Equal(t, 3, pe.Total)

	require.Len(t, proj.Sessions, 1)
	folder, ok := f.agg.Folder(proj.Folder.ID)
	require.True(t, ok)
	assert.Equal(t, []string{proj.Sessions[0].ID}, folder.SessionIDs)

	remote, err := f.be.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, remote, 1, "no rollback")
	assert.Len(t, remote[0].SessionIDs, 1)
}

func TestDeleteFolderReleasesPendingEdits(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	proj, err := f.agg.CreateProject(ctx, "tea")
	require.NoError(t, err)
	sid := proj.Sessions[0].ID

	require.NoError(t, f.agg.UpdateSession(proj.Folder.ID, sid, chat.Patch{Title: chat.String("renamed")}))
	require.NoError(t, f.agg.DeleteFolder(ctx, proj.Folder.ID))
	time.Sleep(60 * time.Millisecond)

	assert.Zero(t, f.be.Calls("patch"))
	assert.Empty(t, f.agg.Folders())
	_, ok := f.store.Session(sid)
	assert.False(t, ok)
}

func TestStoreDeleteUpdatesIndex(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	proj, err := f.agg.CreateProject(ctx, "tea")
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(ctx, proj.Sessions[1].ID))
	folder, _ := f.agg.Folder(proj.Folder.ID)
	assert.Equal(t, []string{proj.Sessions[0].ID, proj.Sessions[2].ID}, folder.SessionIDs)

	require.NoError(t, f.agg.RemoveSession(ctx, proj.Folder.ID, proj.Sessions[0].ID))
	folder, _ = f.agg.Folder(proj.Folder.ID)
	assert.Equal(t, []string{proj.Sessions[2].ID}, folder.SessionIDs)

	err = f.agg.RemoveSession(ctx, proj.Folder.ID, proj.Sessions[0].ID)
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestAddSessionPersistsMembership(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	plain, err := f.agg.CreateFolder(ctx, "drafts")
	require.NoError(t, err)
	s, err := f.store.Create(ctx, chat.KindChat, "loose")
	require.NoError(t, err)

	require.NoError(t, f.agg.AddSession(plain.ID, s.ID))
	members := f.agg.Sessions(plain.ID)
	require.Len(t, members, 1)
	assert.Equal(t, s.ID, members[0].ID)
	require.Eventually(t, func() bool {
		got, err := f.be.GetSession(ctx, s.ID)
		return err == nil && got.FolderID == plain.ID
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.agg.AddSession("nope", s.ID), chat.ErrNotFound)
	_, err = f.agg.CreateFolder(ctx, "  ")
	assert.True(t, chat.IsValidation(err))
}

func TestAddUnknownSessionLeavesIndexAlone(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	plain, err := f.agg.CreateFolder(ctx, "drafts")
	require.NoError(t, err)

	assert.ErrorIs(t, f.agg.AddSession(plain.ID, "ghost"), chat.ErrNotFound)
	folder, ok := f.agg.Folder(plain.ID)
	require.True(t, ok)
	assert.Empty(t, folder.SessionIDs)
	assert.Empty(t, f.agg.Sessions(plain.ID))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	folder, err := f.be.CreateFolder(ctx, "remote", chat.FolderPlain)
	require.NoError(t, err)
	s, err := f.be.CreateSession(ctx, backend.CreateSessionRequest{Kind: chat.KindChat, FolderID: folder.ID})
	require.NoError(t, err)
	_, err = f.store.List(ctx)
	require.NoError(t, err)

	require.NoError(t, f.agg.Load(ctx))
	got := f.agg.Sessions(folder.ID)
	require.Len(t, got, 1)
	assert.Equal(t, s.ID, got[0].ID)
}
