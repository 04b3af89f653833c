package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/chat"
	"weave/internal/provider"
	"weave/internal/stream"
)

// Stream generates a chat reply incrementally from the configured fragment
// source. Fragments are applied to the placeholder in arrival order; on
// completion the session's messages are persisted through a debounced edit.
func (o *Orchestrator) Stream(ctx context.Context, req StreamRequest) (*Handle, error) {
	if o.opts.Source == nil {
		return nil, fmt.Errorf("stream: no fragment source configured")
	}
	sess, err := o.prepare(req.SessionID, chat.KindChat, req.Prompt, req.Model, "")
	if err != nil {
		return nil, err
	}
	if !sess.Hydrated {
		o.busy.Store(false)
		return nil, chat.Validationf("session", "session %s is not loaded", sess.ID)
	}
	model := req.Model
	if model == "" {
		model = sess.Model
	}
	if model == "" {
		model = chat.DefaultChatModel
	}
	o.opts.Board.Dismiss(sess.ID)

	_, ph, err := o.placeholders(sess, chat.KindChat, req.Prompt)
	if err != nil {
		o.busy.Store(false)
		return nil, err
	}

	job := chat.Job{TaskID: "stream-" + uuid.NewString(), SessionID: sess.ID, MessageID: ph.ID, Kind: chat.KindChat}
	h := newHandle(job)
	// the fragment source stops with the caller's context as well as Cancel
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()
	frags := o.opts.Source.Fragments(h.ctx, provider.TextRequest{
		Model:       model,
		Instruction: sess.Instruction,
		History:     sess.Messages,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
	})
	if o.opts.Metrics != nil {
		o.opts.Metrics.JobsSubmitted.WithLabelValues(chat.KindChat.String()).Inc()
	}
	o.log.Info("stream started", zap.String("session", sess.ID), zap.String("model", model))

	go o.consume(h, frags)
	return h, nil
}

// messageSink applies reconciler effects to one placeholder in the store.
type messageSink struct {
	o     *Orchestrator
	job   chat.Job
	final chat.Message
}

func (s *messageSink) Append(text string) error {
	return s.o.store.UpdateMessage(s.job.SessionID, s.job.MessageID, func(m *chat.Message) {
		m.Content += text
	})
}

func (s *messageSink) Finalize(f stream.Final) error {
	return s.o.store.UpdateMessage(s.job.SessionID, s.job.MessageID, func(m *chat.Message) {
		m.Content = f.Content
		m.Streaming = false
		switch f.Outcome {
		case chat.OutcomeSuccess:
		case chat.OutcomeCancelled, chat.OutcomeTimeout:
			m.Failed = true
		case chat.OutcomeFailure:
			m.Failed = true
			if f.Content == "" && f.Err != nil {
				m.Content = s.o.opts.I18n.T("job.failed", f.Err.Error())
			}
		}
		s.final = m.Clone()
	})
}

func (o *Orchestrator) consume(h *Handle, frags <-chan stream.Fragment) {
	started := time.Now()
	sink := &messageSink{o: o, job: h.Job}
	out := o.rec.Consume(h.tok, sink, frags)

	res := Result{Job: h.Job, Outcome: out.Outcome, Err: out.Err, Message: sink.final}
	if out.Outcome == chat.OutcomeCancelled {
		res.Err = context.Canceled
	}

	switch out.Outcome {
	case chat.OutcomeSuccess, chat.OutcomeCancelled:
		if sess, ok := o.store.Session(h.Job.SessionID); ok {
			patch := chat.Patch{}.SetMessages(sess.Messages)
			if err := o.store.Edit(sess.ID, patch); err != nil {
				o.log.Debug("persist stream skipped", zap.String("session", sess.ID), zap.Error(err))
			}
		}
	case chat.OutcomeFailure, chat.OutcomeTimeout:
	}

	res.StillCurrent = o.store.IsCurrent(h.Job.SessionID)
	if out.Outcome != chat.OutcomeCancelled {
		o.surface(h.Job.SessionID, res.Err, res.StillCurrent)
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.JobOutcomes.WithLabelValues(chat.KindChat.String(), string(out.Outcome)).Inc()
	}
	o.log.Info("stream finished",
		zap.String("session", h.Job.SessionID),
		zap.String("outcome", string(out.Outcome)),
		zap.Int("applied", out.Applied),
		zap.Duration("elapsed", time.Since(started)),
	)
	o.busy.Store(false)
	h.finish(res)
}
