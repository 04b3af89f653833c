package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSessionID 生成新的会话 ID / NewSessionID generates a session id
func NewSessionID() string {
	return newID("sess")
}

// NewTaskID 生成任务 ID / NewTaskID generates a job task id
func NewTaskID() string {
	return newID("task")
}

// NewFolderID 生成文件夹 ID / NewFolderID generates a folder id
func NewFolderID() string {
	return newID("fold")
}

func newID(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%d_%x", prefix, time.Now().UTC().Unix(), u[:4])
}
