package storage

import "weave/internal/chat"

// Store 本地后端的持久化接口
// Store is the persistence interface of the local backend
type Store interface {
	// Session 操作 / Session operations
	CreateSession(s chat.Session) error
	SaveSession(s chat.Session) error
	LoadSession(id string) (chat.Session, error)
	ListSessions() ([]chat.Session, error)
	DeleteSession(id string) error

	// Message 操作 / Message operations
	SaveMessages(sessionID string, messages []chat.Message) error
	AppendMessages(sessionID string, messages ...chat.Message) error

	// 图片记录 / Image records
	AddImageRecord(sessionID string, rec chat.ImageRecord) error

	// 任务 / Jobs
	SaveJob(j JobRecord) error
	LoadJob(taskID string) (JobRecord, error)
	ListJobs(statuses ...chat.JobStatus) ([]JobRecord, error)

	// 文件夹 / Folders
	CreateFolder(f chat.Folder) error
	ListFolders() ([]chat.Folder, error)
	DeleteFolder(id string) ([]string, error)

	// 生命周期 / Lifecycle
	Close() error
}
