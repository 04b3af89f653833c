// Package memory is an in-process Backend with scriptable job behavior.
// The REPL uses it offline; tests use its hooks to reorder and fail calls.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"weave/internal/backend"
	"weave/internal/chat"
	"weave/internal/provider"
)

// Script decides the state reported by the attempt-th poll (1-based) of a job.
type Script func(job chat.Job, attempt int) chat.JobState

// Hooks run before the matching call and may block or fail it.
type Hooks struct {
	BeforeGet    func(ctx context.Context, id string) error
	BeforeCreate func(ctx context.Context, req backend.CreateSessionRequest) error
	BeforePatch  func(ctx context.Context, id string, p chat.Patch) error
	BeforeSubmit func(ctx context.Context, sessionID string) error
	BeforePoll   func(ctx context.Context, taskID string) error
}

type job struct {
	job    chat.Job
	prompt string
	model  string
	ratio  string
	polls  int
	final  *chat.JobState
}

// Backend is safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	sessions map[string]*chat.Session
	order    []string
	folders  map[string]*chat.Folder
	forder   []string
	jobs     map[string]*job
	calls    map[string]int

	script Script
	hooks  Hooks
}

type Option func(*Backend)

// WithScript replaces the default job script.
func WithScript(s Script) Option { return func(b *Backend) { b.script = s } }

// WithHooks installs call hooks.
func WithHooks(h Hooks) Option { return func(b *Backend) { b.hooks = h } }

func New(opts ...Option) *Backend {
	b := &Backend{
		sessions: make(map[string]*chat.Session),
		folders:  make(map[string]*chat.Folder),
		jobs:     make(map[string]*job),
		calls:    make(map[string]int),
		script:   SucceedAfter(1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SucceedAfter reports running for n-1 polls and success on the n-th.
func SucceedAfter(n int) Script {
	return func(j chat.Job, attempt int) chat.JobState {
		if attempt < n {
			return chat.JobState{TaskID: j.TaskID, Status: chat.JobRunning}
		}
		return chat.JobState{TaskID: j.TaskID, Status: chat.JobSuccess}
	}
}

// FailAfter reports failure with msg on the n-th poll.
func FailAfter(n int, msg string) Script {
	return func(j chat.Job, attempt int) chat.JobState {
		if attempt < n {
			return chat.JobState{TaskID: j.TaskID, Status: chat.JobPending}
		}
		return chat.JobState{TaskID: j.TaskID, Status: chat.JobFailure, Error: msg}
	}
}

// NeverFinish keeps every job running.
func NeverFinish() Script {
	return func(j chat.Job, _ int) chat.JobState {
		return chat.JobState{TaskID: j.TaskID, Status: chat.JobRunning}
	}
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Polls returns how many times a task was polled.
func (b *Backend) Polls(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[taskID]; ok {
		return j.polls
	}
	return 0
}

// Seed inserts a session directly, bypassing hooks.
func (b *Backend) Seed(s chat.Session) chat.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Hydrated = false
	c := s.Clone()
	b.sessions[s.ID] = &c
	b.order = append([]string{s.ID}, b.order...)
	return s.Clone()
}

func (b *Backend) count(op string) {
	b.mu.Lock()
	b.calls[op]++
	b.mu.Unlock()
}

func (b *Backend) ListSessions(ctx context.Context) ([]chat.Session, error) {
	b.count("list")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]chat.Session, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.sessions[id].Summary())
	}
	return out, nil
}

func (b *Backend) GetSession(ctx context.Context, id string) (chat.Session, error) {
	b.count("get")
	if b.hooks.BeforeGet != nil {
		if err := b.hooks.BeforeGet(ctx, id); err != nil {
			return chat.Session{}, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return chat.Session{}, fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	out := s.Clone()
	out.Hydrated = true
	return out, nil
}

func (b *Backend) CreateSession(ctx context.Context, req backend.CreateSessionRequest) (chat.Session, error) {
	b.count("create")
	if !req.Kind.Valid() {
		return chat.Session{}, chat.Validationf("kind", "unknown session kind")
	}
	if b.hooks.BeforeCreate != nil {
		if err := b.hooks.BeforeCreate(ctx, req); err != nil {
			return chat.Session{}, err
		}
	}
	title := req.Title
	if title == "" {
		title = backend.DefaultTitle(req.Kind)
	}
	model := req.Model
	if model == "" {
		model = chat.DefaultModel(req.Kind)
	}
	s := chat.Session{
		ID:                 uuid.NewString(),
		Kind:               req.Kind,
		Title:              title,
		FolderID:           req.FolderID,
		Model:              model,
		Instruction:        req.Instruction,
		RecommendedPrompts: req.RecommendedPrompts,
		Messages:           req.Messages,
	}
	created := b.Seed(s)

	if req.FolderID != "" {
		b.mu.Lock()
		if f, ok := b.folders[req.FolderID]; ok {
			f.SessionIDs = append(f.SessionIDs, created.ID)
		}
		b.mu.Unlock()
	}
	created.Hydrated = true
	return created, nil
}

func (b *Backend) PatchSession(ctx context.Context, id string, p chat.Patch) (chat.Session, error) {
	b.count("patch")
	if b.hooks.BeforePatch != nil {
		if err := b.hooks.BeforePatch(ctx, id, p); err != nil {
			return chat.Session{}, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return chat.Session{}, fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	p.Apply(s)
	s.UpdatedAt = time.Now().UTC()
	out := s.Clone()
	out.Hydrated = true
	return out, nil
}

func (b *Backend) DeleteSession(ctx context.Context, id string) error {
	b.count("delete")
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	delete(b.sessions, id)
	b.order = slices.DeleteFunc(b.order, func(s string) bool { return s == id })
	for _, f := range b.folders {
		f.SessionIDs = slices.DeleteFunc(f.SessionIDs, func(s string) bool { return s == id })
	}
	return nil
}

func (b *Backend) SubmitChat(ctx context.Context, req backend.ChatRequest) (chat.Job, error) {
	return b.submit(ctx, chat.KindChat, req.SessionID, req.Prompt, req.Model, "")
}

func (b *Backend) SubmitImage(ctx context.Context, req backend.ImageRequest) (chat.Job, error) {
	return b.submit(ctx, chat.KindImage, req.SessionID, req.Prompt, req.Model, req.AspectRatio)
}

func (b *Backend) submit(ctx context.Context, kind chat.Kind, sessionID, prompt, model, ratio string) (chat.Job, error) {
	b.count("submit")
	if b.hooks.BeforeSubmit != nil {
		if err := b.hooks.BeforeSubmit(ctx, sessionID); err != nil {
			return chat.Job{}, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return chat.Job{}, fmt.Errorf("session %s: %w", sessionID, chat.ErrNotFound)
	}
	if s.Kind != kind {
		return chat.Job{}, &chat.ValidationError{Field: "session", Reason: fmt.Sprintf("not a %s session", kind), Err: chat.ErrKindMismatch}
	}
	if model == "" {
		model = s.Model
	}
	if kind == chat.KindChat {
		backend.AutoTitle(s, prompt)
	}
	now := time.Now().UTC()
	s.Messages = append(s.Messages, chat.Message{
		ID: uuid.NewString(), Role: chat.RoleUser, Content: prompt, Type: chat.MessageText, CreatedAt: now,
	})
	s.UpdatedAt = now

	j := chat.Job{TaskID: uuid.NewString(), JobID: uuid.NewString(), SessionID: sessionID, Kind: kind}
	b.jobs[j.TaskID] = &job{job: j, prompt: prompt, model: model, ratio: ratio}
	return j, nil
}

func (b *Backend) PollJob(ctx context.Context, taskID string) (chat.JobState, error) {
	b.count("poll")
	if b.hooks.BeforePoll != nil {
		if err := b.hooks.BeforePoll(ctx, taskID); err != nil {
			return chat.JobState{}, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[taskID]
	if !ok {
		return chat.JobState{}, fmt.Errorf("job %s: %w", taskID, chat.ErrNotFound)
	}
	j.polls++
	if j.final != nil {
		return *j.final, nil
	}
	st := b.script(j.job, j.polls)
	st.TaskID = taskID
	if !st.Status.Terminal() {
		return st, nil
	}
	if st.Status == chat.JobSuccess {
		b.complete(j, &st)
	}
	j.final = &st
	return st, nil
}

// complete writes the job result into its session, as a worker would.
func (b *Backend) complete(j *job, st *chat.JobState) {
	s, ok := b.sessions[j.job.SessionID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	switch j.job.Kind {
	case chat.KindChat:
		if st.Message == nil {
			st.Message = &chat.Message{
				ID: uuid.NewString(), Role: chat.RoleAssistant, Content: provider.MockReply(j.prompt),
				Type: chat.MessageText, CreatedAt: now,
			}
		}
		s.Messages = append(s.Messages, st.Message.Clone())
	case chat.KindImage:
		if st.Image == nil {
			st.Image = &chat.ImageRecord{
				ID: uuid.NewString(), Prompt: j.prompt, ImageURL: provider.MockImageURL(j.prompt, j.ratio),
				Model: j.model, CreatedAt: now,
			}
		}
		s.Records = append(s.Records, *st.Image)
		s.Messages = append(s.Messages, chat.Message{
			ID: uuid.NewString(), Role: chat.RoleAssistant, Content: j.prompt, Type: chat.MessageImage,
			MediaURL: st.Image.ImageURL, CreatedAt: now,
		})
	}
	s.UpdatedAt = now
}

func (b *Backend) ListFolders(ctx context.Context) ([]chat.Folder, error) {
	b.count("folders")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]chat.Folder, 0, len(b.forder))
	for _, id := range b.forder {
		f := *b.folders[id]
		f.SessionIDs = slices.Clone(f.SessionIDs)
		out = append(out, f)
	}
	return out, nil
}

func (b *Backend) CreateFolder(ctx context.Context, name string, typ chat.FolderType) (chat.Folder, error) {
	b.count("create_folder")
	if err := ctx.Err(); err != nil {
		return chat.Folder{}, err
	}
	if typ == "" {
		typ = chat.FolderPlain
	}
	f := chat.Folder{ID: uuid.NewString(), Name: name, Type: typ, CreatedAt: time.Now().UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := f
	b.folders[f.ID] = &c
	b.forder = append([]string{f.ID}, b.forder...)
	return f, nil
}

func (b *Backend) DeleteFolder(ctx context.Context, id string) error {
	b.count("delete_folder")
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.folders[id]
	if !ok {
		return fmt.Errorf("folder %s: %w", id, chat.ErrNotFound)
	}
	for _, sid := range f.SessionIDs {
		delete(b.sessions, sid)
		b.order = slices.DeleteFunc(b.order, func(s string) bool { return s == sid })
	}
	delete(b.folders, id)
	b.forder = slices.DeleteFunc(b.forder, func(s string) bool { return s == id })
	return nil
}

var _ backend.Backend = (*Backend)(nil)
