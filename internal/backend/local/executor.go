package local

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/chat"
	"weave/internal/provider"
	"weave/internal/storage"
)

// run executes one job. history is the session conversation before the
// user prompt of this job.
func (b *Backend) run(rec storage.JobRecord, history []chat.Message) {
	defer b.wg.Done()

	rec.Status = chat.JobRunning
	if err := b.store.SaveJob(rec); err != nil {
		b.log.Warn("mark job running", zap.String("task_id", rec.TaskID), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch rec.Kind {
	case chat.KindChat:
		err = b.runChat(ctx, &rec, history)
	case chat.KindImage:
		err = b.runImage(ctx, &rec)
	default:
		err = chat.Validationf("kind", "unknown session kind %d", int(rec.Kind))
	}

	if err != nil {
		rec.Status = chat.JobFailure
		rec.Error = err.Error()
	} else {
		rec.Status = chat.JobSuccess
	}
	if err := b.store.SaveJob(rec); err != nil {
		b.log.Warn("record job outcome", zap.String("task_id", rec.TaskID), zap.Error(err))
	}
	b.log.Info("job finished",
		zap.String("task_id", rec.TaskID),
		zap.Stringer("kind", rec.Kind),
		zap.String("status", string(rec.Status)),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("generator", b.gen.Name()),
	)
}

func (b *Backend) runChat(ctx context.Context, rec *storage.JobRecord, history []chat.Message) error {
	reply, err := b.gen.Complete(ctx, provider.TextRequest{
		Model:       rec.Model,
		Instruction: rec.Instruction,
		History:     history,
		Prompt:      rec.Prompt,
	}, nil)
	if err != nil {
		return err
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   reply,
		Type:      chat.MessageText,
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.store.AppendMessages(rec.SessionID, msg); err != nil {
		return err
	}
	rec.ResultMessageID = msg.ID
	return nil
}

func (b *Backend) runImage(ctx context.Context, rec *storage.JobRecord) error {
	img, err := b.gen.GenerateImage(ctx, provider.ImageRequest{
		Model:       rec.Model,
		Prompt:      rec.Prompt,
		AspectRatio: rec.AspectRatio,
	})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	record := chat.ImageRecord{
		ID:        uuid.NewString(),
		Prompt:    rec.Prompt,
		ImageURL:  img.URL,
		Model:     rec.Model,
		CreatedAt: now,
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   rec.Prompt,
		Type:      chat.MessageImage,
		MediaURL:  img.URL,
		CreatedAt: now,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.store.AddImageRecord(rec.SessionID, record); err != nil {
		return err
	}
	if err := b.store.AppendMessages(rec.SessionID, msg); err != nil {
		return err
	}
	rec.ResultMessageID = msg.ID
	rec.ResultImageID = record.ID
	return nil
}
