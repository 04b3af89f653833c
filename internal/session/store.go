// Package session keeps the client's view of the session collection and
// decides which asynchronous results may touch it.
//
// The store tracks two ids: the current id (the session on screen) and the
// desired current id (the most recent selection, possibly still loading).
// A fetch result is applied to the current view only when its session id
// still equals the desired current id at completion; the mutex protects
// memory, the id comparison decides ordering.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"weave/internal/backend"
	"weave/internal/chat"
	"weave/internal/debounce"
	"weave/internal/metrics"
)

type EventType int

const (
	EventCreated EventType = iota + 1
	EventUpdated
	EventDeleted
	EventSelected
	EventListed
)

// Event is delivered to subscribers after the store lock is released.
type Event struct {
	Type      EventType
	SessionID string
}

type Options struct {
	// DebounceWindow is the trailing window of Edit writes.
	DebounceWindow time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

type Store struct {
	be      backend.Sessions
	deb     *debounce.Debouncer
	log     *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	sessions  map[string]*chat.Session
	order     []string
	currentID string
	wantID    string
	intent    uint64
	subs      map[int]func(Event)
	nextSub   int
}

func New(be backend.Sessions, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		be:       be,
		log:      log.Named("session"),
		metrics:  opts.Metrics,
		sessions: make(map[string]*chat.Session),
		subs:     make(map[int]func(Event)),
	}
	s.deb = debounce.New(s.persist, debounce.Options{
		Window:  opts.DebounceWindow,
		Logger:  log,
		Metrics: opts.Metrics,
	})
	return s
}

func (s *Store) persist(ctx context.Context, id string, p chat.Patch) error {
	_, err := s.be.PatchSession(ctx, id, p)
	return err
}

// Subscribe registers fn for store events and returns its cancel func.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// emit must be called without s.mu held.
func (s *Store) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (s *Store) stale(op, id string) {
	s.log.Debug("dropped stale result", zap.String("op", op), zap.String("session", id))
	if s.metrics != nil {
		s.metrics.StaleResults.WithLabelValues(op).Inc()
	}
}

// --- Reads ---

// Sessions returns copies of all sessions, most recent first.
func (s *Store) Sessions() []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].Clone())
	}
	return out
}

// Session returns a copy of one session.
func (s *Store) Session(id string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, false
	}
	return cur.Clone(), true
}

// Current returns the session on screen.
func (s *Store) Current() (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == "" {
		return chat.Session{}, false
	}
	cur, ok := s.sessions[s.currentID]
	if !ok {
		return chat.Session{}, false
	}
	return cur.Clone(), true
}

func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// IsCurrent reports whether id is the desired current session.
func (s *Store) IsCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id != "" && s.wantID == id
}

// --- Remote operations ---

// List fetches all sessions and replaces the collection. Hydrated local
// entries keep their messages; only summary fields are merged into them.
func (s *Store) List(ctx context.Context) ([]chat.Session, error) {
	remote, err := s.be.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	s.mu.Lock()
	next := make(map[string]*chat.Session, len(remote))
	order := make([]string, 0, len(remote))
	for _, r := range remote {
		if local, ok := s.sessions[r.ID]; ok && local.Hydrated {
			s.mergeSummaryLocked(local, r)
			next[r.ID] = local
		} else {
			c := r.Summary()
			s.overlayPendingLocked(&c, false)
			next[r.ID] = &c
		}
		order = append(order, r.ID)
	}
	s.sessions = next
	s.order = order
	if _, ok := next[s.currentID]; !ok {
		s.currentID = ""
	}
	if _, ok := next[s.wantID]; !ok {
		s.wantID = s.currentID
	}
	out := make([]chat.Session, 0, len(order))
	for _, id := range order {
		out = append(out, next[id].Clone())
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventListed})
	return out, nil
}

// Get fetches a fully hydrated session without touching the store.
func (s *Store) Get(ctx context.Context, id string) (chat.Session, error) {
	got, err := s.be.GetSession(ctx, id)
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	got.Hydrated = true
	return got, nil
}

type createOptions struct {
	req      backend.CreateSessionRequest
	detached bool
}

type CreateOption func(*createOptions)

func InFolder(folderID string) CreateOption {
	return func(o *createOptions) { o.req.FolderID = folderID }
}

func WithModel(model string) CreateOption {
	return func(o *createOptions) { o.req.Model = model }
}

func WithInstruction(instruction string) CreateOption {
	return func(o *createOptions) { o.req.Instruction = instruction }
}

func WithMessages(msgs ...chat.Message) CreateOption {
	return func(o *createOptions) { o.req.Messages = append(o.req.Messages, msgs...) }
}

func WithRecommendedPrompts(prompts ...string) CreateOption {
	return func(o *createOptions) { o.req.RecommendedPrompts = append(o.req.RecommendedPrompts, prompts...) }
}

// Detached inserts the session without making it current.
func Detached() CreateOption {
	return func(o *createOptions) { o.detached = true }
}

// Create creates a session remotely, inserts it at the head of the
// collection and makes it current, unless the user selected something else
// while the create was in flight or the session is Detached.
func (s *Store) Create(ctx context.Context, kind chat.Kind, title string, opts ...CreateOption) (chat.Session, error) {
	if !kind.Valid() {
		return chat.Session{}, chat.Validationf("kind", "unknown session kind %d", int(kind))
	}
	o := createOptions{req: backend.CreateSessionRequest{Kind: kind, Title: title}}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	if !o.detached {
		s.intent++
	}
	myIntent := s.intent
	s.mu.Unlock()

	created, err := s.be.CreateSession(ctx, o.req)
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	created.Hydrated = true

	s.mu.Lock()
	c := created.Clone()
	s.sessions[c.ID] = &c
	s.order = append([]string{c.ID}, slices.DeleteFunc(s.order, func(id string) bool { return id == c.ID })...)
	var (
		events    = []Event{{Type: EventCreated, SessionID: c.ID}}
		abandoned string
	)
	if !o.detached && s.intent == myIntent {
		if s.currentID != "" && s.currentID != c.ID {
			abandoned = s.currentID
		}
		s.currentID = c.ID
		s.wantID = c.ID
		events = append(events, Event{Type: EventSelected, SessionID: c.ID})
	}
	s.mu.Unlock()

	if abandoned != "" {
		s.flushAbandoned(ctx, abandoned)
	}
	s.emit(events...)
	return created, nil
}

// flushAbandoned writes the pending edit of a session the user switched
// away from. The session still exists, so its edit is written now instead
// of dropped; a failure is logged by the debouncer.
func (s *Store) flushAbandoned(ctx context.Context, id string) {
	if err := s.deb.Flush(ctx, id); err != nil {
		s.log.Debug("flush on switch failed", zap.String("session_id", id), zap.Error(err))
	}
}

// Select makes id current. Only the most recent selection wins: a Get that
// completes after a newer Select was issued is dropped with ErrSuperseded.
// Select with an empty id clears the current session.
func (s *Store) Select(ctx context.Context, id string) (chat.Session, error) {
	s.mu.Lock()
	prev := s.currentID
	s.wantID = id
	s.intent++
	if id == "" {
		s.currentID = ""
	}
	s.mu.Unlock()

	if prev != "" && prev != id {
		s.flushAbandoned(ctx, prev)
	}
	if id == "" {
		s.emit(Event{Type: EventSelected})
		return chat.Session{}, nil
	}

	got, err := s.be.GetSession(ctx, id)

	s.mu.Lock()
	if s.wantID != id {
		s.mu.Unlock()
		s.stale("select", id)
		return chat.Session{}, chat.ErrSuperseded
	}
	if err != nil {
		s.mu.Unlock()
		return chat.Session{}, fmt.Errorf("select session %s: %w", id, err)
	}
	merged := s.hydrateLocked(got)
	s.currentID = id
	out := merged.Clone()
	s.mu.Unlock()

	s.emit(Event{Type: EventSelected, SessionID: id})
	return out, nil
}

// Refresh re-fetches id. The hydrated result is applied only if id is still
// the desired current session; otherwise only summary fields are merged and
// the entry is marked for re-hydration. The returned flag is that
// still-current check and gates error surfacing in callers.
func (s *Store) Refresh(ctx context.Context, id string) (bool, error) {
	got, err := s.be.GetSession(ctx, id)

	s.mu.Lock()
	still := id != "" && s.wantID == id
	if err != nil {
		s.mu.Unlock()
		return still, fmt.Errorf("refresh session %s: %w", id, err)
	}
	local, exists := s.sessions[id]
	switch {
	case still:
		s.hydrateLocked(got)
	case exists:
		s.mergeSummaryLocked(local, got)
		local.Hydrated = false
	}
	s.mu.Unlock()

	if !still {
		s.stale("refresh", id)
	}
	if still || exists {
		s.emit(Event{Type: EventUpdated, SessionID: id})
	}
	return still, nil
}

// Patch applies p locally and writes it through synchronously. A failed
// write is returned and the local change is kept.
func (s *Store) Patch(ctx context.Context, id string, p chat.Patch) (chat.Session, error) {
	if err := s.applyLocal(id, p); err != nil {
		return chat.Session{}, err
	}
	updated, err := s.be.PatchSession(ctx, id, p)
	if err != nil {
		return chat.Session{}, fmt.Errorf("patch session %s: %w", id, err)
	}
	s.mu.Lock()
	if local, ok := s.sessions[id]; ok {
		s.mergeSummaryLocked(local, updated)
	}
	s.mu.Unlock()
	s.emit(Event{Type: EventUpdated, SessionID: id})
	return updated, nil
}

// Edit applies p locally and schedules a debounced remote write.
func (s *Store) Edit(id string, p chat.Patch) error {
	if err := s.applyLocal(id, p); err != nil {
		return err
	}
	s.deb.Push(id, p)
	s.emit(Event{Type: EventUpdated, SessionID: id})
	return nil
}

// Delete releases any pending write for id, then deletes it remotely and
// locally. Deleting the current session clears the current pointer.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.deb.Release(id)
	if err := s.be.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	s.Evict(id)
	return nil
}

// Release cancels a pending debounced edit of id without touching state.
func (s *Store) Release(id string) bool {
	return s.deb.Release(id)
}

// Evict drops id locally after it was removed remotely by other means,
// such as a folder delete.
func (s *Store) Evict(id string) {
	s.deb.Release(id)
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	if s.currentID == id {
		s.currentID = ""
	}
	if s.wantID == id {
		s.wantID = ""
	}
	s.mu.Unlock()
	if existed {
		s.emit(Event{Type: EventDeleted, SessionID: id})
	}
}

// --- Local primitives used by job orchestration ---

// AppendLocal appends messages to a session without a remote write.
func (s *Store) AppendLocal(id string, msgs ...chat.Message) error {
	s.mu.Lock()
	local, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	for _, m := range msgs {
		local.Messages = append(local.Messages, m.Clone())
	}
	s.mu.Unlock()
	s.emit(Event{Type: EventUpdated, SessionID: id})
	return nil
}

// UpdateMessage mutates one message in place. Changing the content of a
// finalized message is rejected with ErrFinalized.
func (s *Store) UpdateMessage(id, msgID string, fn func(*chat.Message)) error {
	s.mu.Lock()
	local, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	idx := local.MessageIndex(msgID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", msgID, chat.ErrNotFound)
	}
	before := local.Messages[idx]
	next := before.Clone()
	fn(&next)
	if before.Finalized() && next.Content != before.Content {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", msgID, chat.ErrFinalized)
	}
	local.Messages[idx] = next
	s.mu.Unlock()
	s.emit(Event{Type: EventUpdated, SessionID: id})
	return nil
}

// FlushPending writes every pending debounced edit now.
func (s *Store) FlushPending(ctx context.Context) {
	s.deb.FlushAll(ctx)
}

// Close stops the debouncer. Pending edits are dropped; call FlushPending first to keep them.
func (s *Store) Close() {
	s.deb.Close()
}

func (s *Store) applyLocal(id string, p chat.Patch) error {
	s.mu.Lock()
	local, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	p.Apply(local)
	local.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

// hydrateLocked replaces the local entry with got. A debounced edit that
// has not been written yet is applied on top, so the view keeps showing it.
// Local messages that are still streaming, or that failed and never
// reached the server, survive.
func (s *Store) hydrateLocked(got chat.Session) *chat.Session {
	next := got.Clone()
	next.Hydrated = true
	s.overlayPendingLocked(&next, true)
	if local, ok := s.sessions[got.ID]; ok {
		for _, m := range local.Messages {
			if !(m.Streaming || m.Failed) || next.MessageIndex(m.ID) >= 0 {
				continue
			}
			next.Messages = append(next.Messages, m.Clone())
		}
	} else {
		s.order = append([]string{got.ID}, s.order...)
	}
	s.sessions[got.ID] = &next
	return &next
}

// mergeSummaryLocked copies remote summary fields into local, keeping any
// debounced edit that is still waiting to be written.
func (s *Store) mergeSummaryLocked(local *chat.Session, remote chat.Session) {
	mergeSummary(local, remote)
	s.overlayPendingLocked(local, false)
}

// overlayPendingLocked applies the pending debounced edit of sess onto it.
// Local edits stay authoritative for the view until their write lands.
func (s *Store) overlayPendingLocked(sess *chat.Session, withMessages bool) {
	p, ok := s.deb.Pending(sess.ID)
	if !ok {
		return
	}
	if !withMessages {
		p.Messages, p.MessagesSet = nil, false
	}
	p.Apply(sess)
}

func mergeSummary(local *chat.Session, remote chat.Session) {
	local.Title = remote.Title
	local.FolderID = remote.FolderID
	local.Model = remote.Model
	local.Instruction = remote.Instruction
	local.UpdatedAt = remote.UpdatedAt
	if remote.RecommendedPrompts != nil {
		local.RecommendedPrompts = append([]string(nil), remote.RecommendedPrompts...)
	}
}
