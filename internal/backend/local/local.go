// Package local is the Backend of a single-user install: sessions, folders
// and jobs live in SQLite and jobs run on in-process goroutines that call a
// provider.Generator. The dev server exposes it over HTTP.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/backend"
	"weave/internal/chat"
	"weave/internal/provider"
	"weave/internal/storage"
)

// DefaultJobTimeout bounds a single generator call.
const DefaultJobTimeout = 2 * time.Minute

// interruptedReason is recorded on jobs a previous process left unfinished.
const interruptedReason = "interrupted before completion"

type Options struct {
	Generator  provider.Generator
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Backend is safe for concurrent use.
type Backend struct {
	store   storage.Store
	gen     provider.Generator
	timeout time.Duration
	log     *zap.Logger

	// mu serializes read-modify-write sequences on a session row.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wraps store. Jobs that were pending or running when the previous
// process exited are marked failed.
func New(store storage.Store, opts Options) (*Backend, error) {
	if opts.Generator == nil {
		opts.Generator = &provider.MockGenerator{}
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		store:   store,
		gen:     opts.Generator,
		timeout: opts.JobTimeout,
		log:     opts.Logger.Named("local"),
		ctx:     ctx,
		cancel:  cancel,
	}
	if err := b.failUnfinished(); err != nil {
		cancel()
		return nil, err
	}
	return b, nil
}

func (b *Backend) failUnfinished() error {
	open, err := b.store.ListJobs(chat.JobPending, chat.JobRunning)
	if err != nil {
		return fmt.Errorf("list unfinished jobs: %w", err)
	}
	for _, j := range open {
		j.Status = chat.JobFailure
		j.Error = interruptedReason
		if err := b.store.SaveJob(j); err != nil {
			return fmt.Errorf("mark job %s interrupted: %w", j.TaskID, err)
		}
	}
	if len(open) > 0 {
		b.log.Info("marked unfinished jobs as failed", zap.Int("count", len(open)))
	}
	return nil
}

// Close stops running jobs and waits for their goroutines. The store is not closed.
func (b *Backend) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// Generator returns the generator jobs run on.
func (b *Backend) Generator() provider.Generator { return b.gen }

func (b *Backend) ListSessions(ctx context.Context) ([]chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.store.ListSessions()
}

func (b *Backend) GetSession(ctx context.Context, id string) (chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return chat.Session{}, err
	}
	return b.store.LoadSession(id)
}

func (b *Backend) CreateSession(ctx context.Context, req backend.CreateSessionRequest) (chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return chat.Session{}, err
	}
	if !req.Kind.Valid() {
		return chat.Session{}, chat.Validationf("kind", "unknown session kind")
	}
	title := req.Title
	if title == "" {
		title = backend.DefaultTitle(req.Kind)
	}
	model := req.Model
	if model == "" {
		model = chat.DefaultModel(req.Kind)
	}
	now := time.Now().UTC()
	msgs := make([]chat.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		msgs = append(msgs, m)
	}
	s := chat.Session{
		ID:                 storage.NewSessionID(),
		Kind:               req.Kind,
		Title:              title,
		FolderID:           req.FolderID,
		Model:              model,
		Instruction:        req.Instruction,
		RecommendedPrompts: req.RecommendedPrompts,
		Messages:           msgs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := b.store.CreateSession(s); err != nil {
		return chat.Session{}, err
	}
	return b.store.LoadSession(s.ID)
}

func (b *Backend) PatchSession(ctx context.Context, id string, p chat.Patch) (chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return chat.Session{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.store.LoadSession(id)
	if err != nil {
		return chat.Session{}, err
	}
	p.Apply(&s)
	if err := b.store.SaveSession(s); err != nil {
		return chat.Session{}, err
	}
	if p.MessagesSet {
		if err := b.store.SaveMessages(id, s.Messages); err != nil {
			return chat.Session{}, err
		}
	}
	return b.store.LoadSession(id)
}

func (b *Backend) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.DeleteSession(id)
}

func (b *Backend) SubmitChat(ctx context.Context, req backend.ChatRequest) (chat.Job, error) {
	return b.submit(ctx, storage.JobRecord{
		SessionID:   req.SessionID,
		Kind:        chat.KindChat,
		Prompt:      req.Prompt,
		Model:       req.Model,
		Instruction: req.Instruction,
	})
}

func (b *Backend) SubmitImage(ctx context.Context, req backend.ImageRequest) (chat.Job, error) {
	ratio := req.AspectRatio
	if ratio == "" {
		ratio = chat.DefaultAspectRatio
	}
	return b.submit(ctx, storage.JobRecord{
		SessionID:   req.SessionID,
		Kind:        chat.KindImage,
		Prompt:      req.Prompt,
		Model:       req.Model,
		AspectRatio: ratio,
	})
}

// submit records the user prompt and the pending job, then starts the executor.
func (b *Backend) submit(ctx context.Context, rec storage.JobRecord) (chat.Job, error) {
	if err := ctx.Err(); err != nil {
		return chat.Job{}, err
	}
	if b.ctx.Err() != nil {
		return chat.Job{}, errors.New("local backend is closed")
	}

	b.mu.Lock()
	s, err := b.store.LoadSession(rec.SessionID)
	if err != nil {
		b.mu.Unlock()
		return chat.Job{}, err
	}
	if s.Kind != rec.Kind {
		b.mu.Unlock()
		return chat.Job{}, &chat.ValidationError{
			Field:  "session",
			Reason: fmt.Sprintf("not a %s session", rec.Kind),
			Err:    chat.ErrKindMismatch,
		}
	}
	if rec.Model == "" {
		rec.Model = s.Model
	}
	if rec.Instruction == "" {
		rec.Instruction = s.Instruction
	}
	if rec.Kind == chat.KindChat && backend.AutoTitle(&s, rec.Prompt) {
		if err := b.store.SaveSession(s); err != nil {
			b.mu.Unlock()
			return chat.Job{}, err
		}
	}
	userMsg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   rec.Prompt,
		Type:      chat.MessageText,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.AppendMessages(rec.SessionID, userMsg); err != nil {
		b.mu.Unlock()
		return chat.Job{}, err
	}
	rec.TaskID = storage.NewTaskID()
	rec.JobID = uuid.NewString()
	rec.Status = chat.JobPending
	if err := b.store.SaveJob(rec); err != nil {
		b.mu.Unlock()
		return chat.Job{}, err
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(rec, s.Messages)

	b.log.Debug("job accepted",
		zap.String("task_id", rec.TaskID),
		zap.String("session_id", rec.SessionID),
		zap.Stringer("kind", rec.Kind),
	)
	return chat.Job{
		TaskID:    rec.TaskID,
		JobID:     rec.JobID,
		SessionID: rec.SessionID,
		MessageID: userMsg.ID,
		Kind:      rec.Kind,
	}, nil
}

func (b *Backend) PollJob(ctx context.Context, taskID string) (chat.JobState, error) {
	if err := ctx.Err(); err != nil {
		return chat.JobState{}, err
	}
	rec, err := b.store.LoadJob(taskID)
	if err != nil {
		return chat.JobState{}, err
	}
	st := chat.JobState{TaskID: rec.TaskID, Status: rec.Status, Error: rec.Error}
	if rec.Status != chat.JobSuccess {
		return st, nil
	}
	s, err := b.store.LoadSession(rec.SessionID)
	if err != nil {
		// session deleted after the job finished
		if errors.Is(err, chat.ErrNotFound) {
			return st, nil
		}
		return chat.JobState{}, err
	}
	if i := s.MessageIndex(rec.ResultMessageID); i >= 0 {
		m := s.Messages[i]
		st.Message = &m
	}
	for i := range s.Records {
		if s.Records[i].ID == rec.ResultImageID {
			r := s.Records[i]
			st.Image = &r
			break
		}
	}
	return st, nil
}

func (b *Backend) ListFolders(ctx context.Context) ([]chat.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.store.ListFolders()
}

func (b *Backend) CreateFolder(ctx context.Context, name string, typ chat.FolderType) (chat.Folder, error) {
	if err := ctx.Err(); err != nil {
		return chat.Folder{}, err
	}
	if typ == "" {
		typ = chat.FolderPlain
	}
	f := chat.Folder{ID: storage.NewFolderID(), Name: name, Type: typ, CreatedAt: time.Now().UTC()}
	if err := b.store.CreateFolder(f); err != nil {
		return chat.Folder{}, err
	}
	return f, nil
}

// DeleteFolder removes the folder together with its sessions.
func (b *Backend) DeleteFolder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	removed, err := b.store.DeleteFolder(id)
	if err != nil {
		return err
	}
	b.log.Debug("folder deleted", zap.String("folder_id", id), zap.Int("sessions", len(removed)))
	return nil
}

var _ backend.Backend = (*Backend)(nil)
