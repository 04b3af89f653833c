// Package jobs submits generation work, follows it to a terminal outcome and
// reflects the outcome into the session store.
//
// At most one submission is outstanding per process. Polling and streaming
// run in their own goroutine and stop at the first observed cancellation.
// Terminal errors are surfaced only when the owning session is still the
// desired current one; authentication errors are always surfaced globally.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/backend"
	"weave/internal/chat"
	"weave/internal/i18n"
	"weave/internal/metrics"
	"weave/internal/notice"
	"weave/internal/prompt"
	"weave/internal/provider"
	"weave/internal/session"
	"weave/internal/stream"
)

const (
	DefaultPollInterval     = 1500 * time.Millisecond
	DefaultMaxAttempts      = 60
	DefaultProgressInterval = 800 * time.Millisecond
)

type Options struct {
	PollInterval     time.Duration
	MaxAttempts      int
	ProgressInterval time.Duration
	// Rand drives the heuristic image progress; nil seeds from the clock.
	Rand *rand.Rand

	Validator *prompt.Validator
	// Source produces fragments for Stream. Stream fails without one.
	Source provider.FragmentSource

	Board   *notice.Board
	I18n    *i18n.I18n
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Request submits a polled job.
type Request struct {
	SessionID   string
	Kind        chat.Kind
	Prompt      string
	Model       string
	AspectRatio string
}

// StreamRequest starts an incremental chat reply.
type StreamRequest struct {
	SessionID string
	Prompt    string
	Model     string
	MaxTokens int
}

// Result is the client-observed end of a job.
type Result struct {
	Job     chat.Job
	Outcome chat.Outcome
	Err     error
	// Message is the finalized placeholder.
	Message chat.Message
	Polls   int
	// StillCurrent reports whether the owning session was the desired
	// current session when the outcome was reflected.
	StillCurrent bool
}

type Orchestrator struct {
	be    backend.Jobs
	store *session.Store
	opts  Options
	log   *zap.Logger
	rec   *stream.Reconciler
	busy  atomic.Bool
}

func New(be backend.Jobs, store *session.Store, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Validator == nil {
		opts.Validator = prompt.NewValidator(nil, 0)
	}
	if opts.Board == nil {
		opts.Board = notice.NewBoard()
	}
	if opts.I18n == nil {
		opts.I18n = i18n.New("en")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("jobs")
	return &Orchestrator{
		be:    be,
		store: store,
		opts:  opts,
		log:   log,
		rec: &stream.Reconciler{
			CancelMarker: opts.I18n.T("job.cancelled_marker"),
			Logger:       log,
			Metrics:      opts.Metrics,
		},
	}
}

// Busy reports whether a submission is outstanding.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Board returns the notice board errors are surfaced on.
func (o *Orchestrator) Board() *notice.Board {
	return o.opts.Board
}

// prepare validates against the local session and takes the single-flight guard.
func (o *Orchestrator) prepare(sessionID string, kind chat.Kind, text, model, ratio string) (chat.Session, error) {
	sess, ok := o.store.Session(sessionID)
	if !ok {
		return chat.Session{}, fmt.Errorf("session %s: %w", sessionID, chat.ErrNotFound)
	}
	err := o.opts.Validator.Validate(prompt.Request{
		Kind:        kind,
		SessionKind: sess.Kind,
		Prompt:      text,
		Model:       model,
		AspectRatio: ratio,
	})
	if err != nil {
		return chat.Session{}, err
	}
	if !o.busy.CompareAndSwap(false, true) {
		return chat.Session{}, chat.ErrBusy
	}
	return sess, nil
}

func (o *Orchestrator) placeholders(sess chat.Session, kind chat.Kind, text string) (user, ph chat.Message, err error) {
	now := time.Now().UTC()
	user = chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Content: text, Type: chat.MessageText, CreatedAt: now}
	ph = chat.Message{ID: uuid.NewString(), Role: chat.RoleAssistant, Streaming: true, CreatedAt: now}
	switch kind {
	case chat.KindChat:
		ph.Type = chat.MessageText
	case chat.KindImage:
		zero := 0
		ph.Type = chat.MessageImage
		ph.Progress = &zero
	default:
		return user, ph, chat.Validationf("kind", "unknown job kind %d", int(kind))
	}
	err = o.store.AppendLocal(sess.ID, user, ph)
	return user, ph, err
}

// Submit validates req, appends an optimistic user message and a placeholder,
// submits the job and starts polling it. A submission failure finalizes the
// placeholder and is returned.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Handle, error) {
	sess, err := o.prepare(req.SessionID, req.Kind, req.Prompt, req.Model, req.AspectRatio)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = sess.Model
	}
	if model == "" {
		model = chat.DefaultModel(req.Kind)
	}
	ratio := req.AspectRatio
	if req.Kind == chat.KindImage && ratio == "" {
		ratio = chat.DefaultAspectRatio
	}
	o.opts.Board.Dismiss(sess.ID)

	user, ph, err := o.placeholders(sess, req.Kind, req.Prompt)
	if err != nil {
		o.busy.Store(false)
		return nil, err
	}

	var job chat.Job
	switch req.Kind {
	case chat.KindChat:
		job, err = o.be.SubmitChat(ctx, backend.ChatRequest{
			SessionID: sess.ID, Prompt: req.Prompt, Model: model, Instruction: sess.Instruction,
		})
	case chat.KindImage:
		job, err = o.be.SubmitImage(ctx, backend.ImageRequest{
			SessionID: sess.ID, Prompt: req.Prompt, Model: model, AspectRatio: ratio,
		})
	default:
		err = chat.Validationf("kind", "unknown job kind %d", int(req.Kind))
	}
	if err != nil {
		o.rejected(sess.ID, user.ID, ph.ID, err)
		return nil, err
	}
	job.SessionID = sess.ID
	job.MessageID = ph.ID
	job.Kind = req.Kind
	if o.opts.Metrics != nil {
		o.opts.Metrics.JobsSubmitted.WithLabelValues(req.Kind.String()).Inc()
	}
	o.log.Info("job submitted",
		zap.String("task", job.TaskID),
		zap.String("session", job.SessionID),
		zap.String("kind", job.Kind.String()),
		zap.String("model", model),
	)

	h := newHandle(job)
	go o.poll(h, req.Prompt)
	return h, nil
}

// rejected finalizes both optimistic messages after a failed submission.
func (o *Orchestrator) rejected(sessionID, userID, phID string, cause error) {
	defer o.busy.Store(false)
	_ = o.store.UpdateMessage(sessionID, userID, func(m *chat.Message) { m.Failed = true })
	err := o.store.UpdateMessage(sessionID, phID, func(m *chat.Message) {
		m.Content = o.opts.I18n.T("job.submit_failed", cause.Error())
		m.Streaming = false
		m.Failed = true
		m.Progress = nil
	})
	if err != nil {
		o.log.Debug("placeholder gone", zap.String("session", sessionID), zap.Error(err))
	}
	o.surface(sessionID, cause, o.store.IsCurrent(sessionID))
	o.log.Warn("submit failed", zap.String("session", sessionID), zap.Error(cause))
}

func (o *Orchestrator) poll(h *Handle, text string) {
	started := time.Now()
	job := h.Job
	res := Result{Job: job}

	var progress *stream.Progress
	if job.Kind == chat.KindImage {
		progress = stream.StartProgress(h.tok, o.opts.ProgressInterval, o.opts.Rand, func(v int) {
			_ = o.store.UpdateMessage(job.SessionID, job.MessageID, func(m *chat.Message) { m.Progress = &v })
		})
	}

	var (
		state   chat.JobState
		outcome = chat.OutcomeTimeout
		err     error
	)
loop:
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if h.tok.Cancelled() {
			outcome = chat.OutcomeCancelled
			break
		}
		state, err = o.be.PollJob(h.ctx, job.TaskID)
		res.Polls = attempt
		if o.opts.Metrics != nil {
			o.opts.Metrics.JobPolls.Inc()
		}
		if h.tok.Cancelled() {
			outcome = chat.OutcomeCancelled
			break
		}
		if err != nil {
			o.log.Debug("poll failed", zap.String("task", job.TaskID), zap.Int("attempt", attempt), zap.Error(err))
			outcome = chat.OutcomeFailure
			break
		}
		switch state.Status {
		case chat.JobSuccess:
			outcome = chat.OutcomeSuccess
			break loop
		case chat.JobFailure:
			outcome = chat.OutcomeFailure
			err = &chat.JobFailureError{TaskID: job.TaskID, Message: state.Error}
			break loop
		case chat.JobPending, chat.JobRunning:
		default:
			o.log.Debug("unknown job status", zap.String("task", job.TaskID), zap.String("status", string(state.Status)))
		}
		if attempt == o.opts.MaxAttempts {
			break
		}
		select {
		case <-h.tok.Done():
			outcome = chat.OutcomeCancelled
			break loop
		case <-time.After(o.opts.PollInterval):
		}
	}
	if outcome == chat.OutcomeTimeout {
		err = &chat.JobTimeoutError{TaskID: job.TaskID, Attempts: res.Polls}
	}
	if outcome == chat.OutcomeCancelled {
		err = context.Canceled
	}

	if progress != nil {
		if outcome == chat.OutcomeSuccess {
			progress.Complete()
		} else {
			progress.Stop()
		}
	}
	res.Outcome = outcome
	res.Err = err
	res.Message = o.finalize(job, outcome, err, state, text)

	if outcome != chat.OutcomeCancelled {
		// Refresh outlives the cancelled handle context.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		still, rerr := o.store.Refresh(ctx, job.SessionID)
		cancel()
		if rerr != nil {
			o.log.Debug("refresh after job failed", zap.String("session", job.SessionID), zap.Error(rerr))
			if chat.IsAuth(rerr) {
				o.opts.Board.PostGlobal(rerr)
			}
		}
		res.StillCurrent = still
		o.surface(job.SessionID, err, still)
	}

	o.observe(job, outcome, started, err)
	o.busy.Store(false)
	h.finish(res)
}

// finalize writes the single terminal state of the placeholder.
func (o *Orchestrator) finalize(job chat.Job, outcome chat.Outcome, cause error, state chat.JobState, text string) chat.Message {
	var final chat.Message
	err := o.store.UpdateMessage(job.SessionID, job.MessageID, func(m *chat.Message) {
		m.Streaming = false
		switch outcome {
		case chat.OutcomeSuccess:
			switch job.Kind {
			case chat.KindChat:
				if state.Message != nil {
					m.Content = state.Message.Content
				}
			case chat.KindImage:
				m.Content = text
				if state.Image != nil {
					m.MediaURL = state.Image.ImageURL
				}
				done := 100
				m.Progress = &done
			}
		case chat.OutcomeFailure:
			m.Failed = true
			m.Content = o.opts.I18n.T("job.failed", failureText(cause))
		case chat.OutcomeTimeout:
			m.Failed = true
			m.Content = o.opts.I18n.T("job.timeout")
		case chat.OutcomeCancelled:
			m.Failed = true
			m.Content = stream.WithMarker(m.Content, o.opts.I18n.T("job.cancelled_marker"))
		}
		final = m.Clone()
	})
	if err != nil {
		o.log.Debug("placeholder gone", zap.String("session", job.SessionID), zap.Error(err))
	}
	return final
}

func failureText(err error) string {
	var jf *chat.JobFailureError
	if errors.As(err, &jf) && jf.Message != "" {
		return jf.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// surface posts err for the session only while it is still current.
func (o *Orchestrator) surface(sessionID string, err error, stillCurrent bool) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case chat.IsAuth(err):
		o.opts.Board.PostGlobal(err)
	case stillCurrent:
		o.opts.Board.Post(sessionID, err)
	default:
		o.log.Debug("error not surfaced, session no longer current", zap.String("session", sessionID), zap.Error(err))
	}
}

func (o *Orchestrator) observe(job chat.Job, outcome chat.Outcome, started time.Time, err error) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.JobOutcomes.WithLabelValues(job.Kind.String(), string(outcome)).Inc()
		o.opts.Metrics.JobDuration.WithLabelValues(job.Kind.String()).Observe(time.Since(started).Seconds())
	}
	fields := []zap.Field{
		zap.String("task", job.TaskID),
		zap.String("session", job.SessionID),
		zap.String("outcome", string(outcome)),
		zap.Duration("elapsed", time.Since(started)),
	}
	if err != nil && outcome != chat.OutcomeCancelled {
		fields = append(fields, zap.Error(err))
	}
	o.log.Info("job finished", fields...)
}
