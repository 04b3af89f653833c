// Package backend defines the remote contract the client reconciles against.
//
// Implementations: httpapi (REST client), local (sqlite + in-process executor)
// and memory (scriptable, for tests and offline runs).
package backend

import (
	"context"

	"weave/internal/chat"
)

// CreateSessionRequest carries everything a new session starts with.
type CreateSessionRequest struct {
	Kind               chat.Kind      `json:"kind"`
	Title              string         `json:"title,omitempty"`
	FolderID           string         `json:"folder_id,omitempty"`
	Model              string         `json:"model_id,omitempty"`
	Instruction        string         `json:"system_instruction,omitempty"`
	Messages           []chat.Message `json:"messages,omitempty"`
	RecommendedPrompts []string       `json:"recommended_prompts,omitempty"`
}

// ChatRequest submits a chat completion job.
type ChatRequest struct {
	SessionID   string `json:"session_id"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	Instruction string `json:"system_prompt,omitempty"`
}

// ImageRequest submits an image generation job.
type ImageRequest struct {
	SessionID   string `json:"session_id"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// Sessions is the session half of the contract.
type Sessions interface {
	ListSessions(ctx context.Context) ([]chat.Session, error)
	GetSession(ctx context.Context, id string) (chat.Session, error)
	CreateSession(ctx context.Context, req CreateSessionRequest) (chat.Session, error)
	PatchSession(ctx context.Context, id string, p chat.Patch) (chat.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Jobs is the asynchronous generation half of the contract.
type Jobs interface {
	SubmitChat(ctx context.Context, req ChatRequest) (chat.Job, error)
	SubmitImage(ctx context.Context, req ImageRequest) (chat.Job, error)
	PollJob(ctx context.Context, taskID string) (chat.JobState, error)
}

// Folders groups sessions.
type Folders interface {
	ListFolders(ctx context.Context) ([]chat.Folder, error)
	CreateFolder(ctx context.Context, name string, typ chat.FolderType) (chat.Folder, error)
	DeleteFolder(ctx context.Context, id string) error
}

// Backend is the full remote surface.
type Backend interface {
	Sessions
	Jobs
	Folders
}
