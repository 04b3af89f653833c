// Package folder groups sessions into folders and builds planned projects.
//
// The aggregator only holds folder id -> session ids. Session contents live
// in the session store; deletions there reach the index through a store
// subscription.
package folder

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"weave/internal/backend"
	"weave/internal/chat"
	"weave/internal/i18n"
	"weave/internal/planner"
	"weave/internal/session"
)

type Options struct {
	Planner planner.Planner
	I18n    *i18n.I18n
	Logger  *zap.Logger
}

type Aggregator struct {
	be    backend.Folders
	store *session.Store
	plan  planner.Planner
	tr    *i18n.I18n
	log   *zap.Logger
	unsub func()

	mu      sync.Mutex
	folders map[string]chat.Folder
	order   []string
	index   map[string][]string
}

func New(be backend.Folders, store *session.Store, opts Options) *Aggregator {
	if opts.Planner == nil {
		opts.Planner = planner.StaticPlanner{}
	}
	if opts.I18n == nil {
		opts.I18n = i18n.New("en")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &Aggregator{
		be:      be,
		store:   store,
		plan:    opts.Planner,
		tr:      opts.I18n,
		log:     log.Named("folder"),
		folders: make(map[string]chat.Folder),
		index:   make(map[string][]string),
	}
	a.unsub = store.Subscribe(a.onStoreEvent)
	return a
}

// Close stops listening to the store.
func (a *Aggregator) Close() {
	a.unsub()
}

// onStoreEvent runs without any aggregator lock held by the caller; the
// aggregator never holds a.mu while calling into the store.
func (a *Aggregator) onStoreEvent(ev session.Event) {
	if ev.Type != session.EventDeleted {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for fid, ids := range a.index {
		a.index[fid] = slices.DeleteFunc(ids, func(id string) bool { return id == ev.SessionID })
	}
}

// Load replaces folders and the index from the backend.
func (a *Aggregator) Load(ctx context.Context) error {
	list, err := a.be.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("list folders: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.folders = make(map[string]chat.Folder, len(list))
	a.index = make(map[string][]string, len(list))
	a.order = a.order[:0]
	for _, f := range list {
		a.index[f.ID] = slices.Clone(f.SessionIDs)
		f.SessionIDs = nil
		a.folders[f.ID] = f
		a.order = append(a.order, f.ID)
	}
	return nil
}

// Folders returns folders, most recent first, with their session ids.
func (a *Aggregator) Folders() []chat.Folder {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]chat.Folder, 0, len(a.order))
	for _, id := range a.order {
		f := a.folders[id]
		f.SessionIDs = slices.Clone(a.index[id])
		out = append(out, f)
	}
	return out
}

// Folder returns one folder.
func (a *Aggregator) Folder(id string) (chat.Folder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.folders[id]
	if !ok {
		return chat.Folder{}, false
	}
	f.SessionIDs = slices.Clone(a.index[id])
	return f, true
}

// Sessions returns the store's copies of a folder's sessions, in folder order.
// Ids the store does not know are skipped.
func (a *Aggregator) Sessions(folderID string) []chat.Session {
	a.mu.Lock()
	ids := slices.Clone(a.index[folderID])
	a.mu.Unlock()
	out := make([]chat.Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := a.store.Session(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a *Aggregator) CreateFolder(ctx context.Context, name string) (chat.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return chat.Folder{}, chat.Validationf("name", "folder name is empty")
	}
	f, err := a.be.CreateFolder(ctx, name, chat.FolderPlain)
	if err != nil {
		return chat.Folder{}, fmt.Errorf("create folder: %w", err)
	}
	a.insert(f)
	return f, nil
}

func (a *Aggregator) insert(f chat.Folder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index[f.ID] = slices.Clone(f.SessionIDs)
	f.SessionIDs = nil
	a.folders[f.ID] = f
	a.order = append([]string{f.ID}, slices.DeleteFunc(a.order, func(id string) bool { return id == f.ID })...)
}

// DeleteFolder releases pending edits of the folder's sessions, deletes the
// folder remotely and evicts its sessions from the store.
func (a *Aggregator) DeleteFolder(ctx context.Context, id string) error {
	a.mu.Lock()
	ids := slices.Clone(a.index[id])
	a.mu.Unlock()

	for _, sid := range ids {
		a.store.Release(sid)
	}
	if err := a.be.DeleteFolder(ctx, id); err != nil {
		return fmt.Errorf("delete folder %s: %w", id, err)
	}
	for _, sid := range ids {
		a.store.Evict(sid)
	}

	a.mu.Lock()
	delete(a.folders, id)
	delete(a.index, id)
	a.order = slices.DeleteFunc(a.order, func(o string) bool { return o == id })
	a.mu.Unlock()
	a.log.Info("folder deleted", zap.String("folder", id), zap.Int("sessions", len(ids)))
	return nil
}

// AddSession moves a known session into a folder. The membership is written
// through a debounced session edit.
func (a *Aggregator) AddSession(folderID, sessionID string) error {
	if _, ok := a.store.Session(sessionID); !ok {
		return fmt.Errorf("session %s: %w", sessionID, chat.ErrNotFound)
	}
	if !a.link(folderID, sessionID) {
		return fmt.Errorf("folder %s: %w", folderID, chat.ErrNotFound)
	}
	return a.store.Edit(sessionID, chat.Patch{FolderID: chat.String(folderID)})
}

func (a *Aggregator) link(folderID, sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.folders[folderID]; !ok {
		return false
	}
	for fid, ids := range a.index {
		if fid != folderID {
			a.index[fid] = slices.DeleteFunc(ids, func(id string) bool { return id == sessionID })
		}
	}
	if !slices.Contains(a.index[folderID], sessionID) {
		a.index[folderID] = append(a.index[folderID], sessionID)
	}
	return true
}

// RemoveSession deletes a folder's session. The index entry is dropped by
// the store's delete event.
func (a *Aggregator) RemoveSession(ctx context.Context, folderID, sessionID string) error {
	if !a.member(folderID, sessionID) {
		return fmt.Errorf("session %s in folder %s: %w", sessionID, folderID, chat.ErrNotFound)
	}
	return a.store.Delete(ctx, sessionID)
}

// UpdateSession edits a folder's session through the debounced store path.
func (a *Aggregator) UpdateSession(folderID, sessionID string, p chat.Patch) error {
	if !a.member(folderID, sessionID) {
		return fmt.Errorf("session %s in folder %s: %w", sessionID, folderID, chat.ErrNotFound)
	}
	return a.store.Edit(sessionID, p)
}

func (a *Aggregator) member(folderID, sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Contains(a.index[folderID], sessionID)
}

// Project is the result of CreateProject.
type Project struct {
	Folder   chat.Folder
	Sessions []chat.Session
}

// PartialError reports a project whose creation stopped at a step. Steps
// created before it stay persisted and indexed.
type PartialError struct {
	FolderID string
	Created  int
	Total    int
	Err      error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("project %s: created %d of %d steps: %v", e.FolderID, e.Created, e.Total, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// CreateProject plans goal, creates a planned folder and one session per
// step, in order. Step sessions are not selected. A failure part-way is
// returned as *PartialError with no rollback.
func (a *Aggregator) CreateProject(ctx context.Context, goal string) (Project, error) {
	plan, err := a.plan.Plan(ctx, goal)
	if err != nil {
		return Project{}, fmt.Errorf("plan project: %w", err)
	}
	f, err := a.be.CreateFolder(ctx, plan.ProjectName, chat.FolderPlanned)
	if err != nil {
		return Project{}, fmt.Errorf("create project folder: %w", err)
	}
	f.SessionIDs = nil
	a.insert(f)

	proj := Project{Folder: f}
	total := len(plan.Steps)
	for i, step := range plan.Steps {
		kind := stepKind(step)
		welcome := chat.Message{
			ID:        fmt.Sprintf("welcome-%s-step%d", f.ID, i+1),
			Role:      chat.RoleAssistant,
			Content:   a.welcome(step, plan.ProjectName),
			Type:      chat.MessageText,
			CreatedAt: time.Now().UTC(),
		}
		s, err := a.store.Create(ctx, kind, step.Title,
			session.Detached(),
			session.InFolder(f.ID),
			session.WithModel(step.Model),
			session.WithInstruction(step.Instruction+"\n\n"+a.forwardRef(plan.Steps, i)),
			session.WithMessages(welcome),
			session.WithRecommendedPrompts(a.recommendedPrompts(kind, plan.ProjectName, step.Title)...),
		)
		if err != nil {
			a.log.Warn("project step failed",
				zap.String("folder", f.ID), zap.Int("step", i+1), zap.Int("total", total), zap.Error(err))
			return proj, &PartialError{FolderID: f.ID, Created: i, Total: total, Err: err}
		}
		a.link(f.ID, s.ID)
		proj.Sessions = append(proj.Sessions, s)
	}
	proj.Folder, _ = a.Folder(f.ID)
	a.log.Info("project created", zap.String("folder", f.ID), zap.String("name", plan.ProjectName), zap.Int("steps", total))
	return proj, nil
}

func stepKind(step chat.Step) chat.Kind {
	if _, kind, ok := chat.LookupModel(step.Model); ok {
		return kind
	}
	return chat.KindChat
}

// forwardRef names the next step, or marks the last one.
func (a *Aggregator) forwardRef(steps []chat.Step, i int) string {
	if i < len(steps)-1 {
		return a.tr.T("project.next_step", len(steps), steps[i+1].Title)
	}
	return a.tr.T("project.final_step")
}

func (a *Aggregator) welcome(step chat.Step, project string) string {
	name, desc := step.Model, a.tr.T("project.model_generic")
	if m, _, ok := chat.LookupModel(step.Model); ok {
		name, desc = m.Name, m.Description
	}
	return a.tr.T("project.welcome", step.Title, project, name, desc, step.Instruction)
}

func (a *Aggregator) recommendedPrompts(kind chat.Kind, project, title string) []string {
	var prefix string
	switch kind {
	case chat.KindChat:
		prefix = "project.prompt.chat."
	case chat.KindImage:
		prefix = "project.prompt.image."
	default:
		return nil
	}
	out := make([]string, 0, 3)
	for n := 1; n <= 3; n++ {
		out = append(out, a.tr.T(fmt.Sprintf("%s%d", prefix, n), project, title))
	}
	return out
}
