package storage

import (
	"time"

	"weave/internal/chat"
)

// JobRecord 本地执行器的任务行
// JobRecord is one job row of the local executor
type JobRecord struct {
	TaskID      string
	JobID       string
	SessionID   string
	Kind        chat.Kind
	Status      chat.JobStatus
	Prompt      string
	Model       string
	AspectRatio string
	Instruction string
	Error       string
	// ResultMessageID 成功后写入的助手消息 / assistant message written on success
	ResultMessageID string
	// ResultImageID 成功后写入的图片记录 / image record written on success
	ResultImageID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
