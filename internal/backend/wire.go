package backend

import "weave/internal/chat"

// API paths shared by the HTTP client and the dev server.
const (
	PathSessions = "/api/v1/sessions/"
	PathChat     = "/api/v1/chat/complete/"
	PathImage    = "/api/v1/chat/image/"
	PathJobs     = "/api/v1/chat/job/"
	PathFolders  = "/api/v1/folders/"
)

// SessionPath returns the item path of a session.
func SessionPath(id string) string { return PathSessions + id + "/" }

// JobPath returns the poll path of a task.
func JobPath(taskID string) string { return PathJobs + taskID + "/" }

// FolderPath returns the item path of a folder.
func FolderPath(id string) string { return PathFolders + id + "/" }

// SubmitResponse is the 202 body of a job submission.
type SubmitResponse struct {
	TaskID    string `json:"task_id"`
	JobID     string `json:"job_id"`
	MessageID string `json:"message_id,omitempty"`
}

// CreateFolderRequest is the body of a folder create.
type CreateFolderRequest struct {
	Name string          `json:"name"`
	Type chat.FolderType `json:"type,omitempty"`
}

// PatchBody is the wire form of chat.Patch. A non-nil Messages pointer
// replaces the list, including with an empty one.
type PatchBody struct {
	Title       *string         `json:"title,omitempty"`
	Model       *string         `json:"model_id,omitempty"`
	Instruction *string         `json:"system_instruction,omitempty"`
	FolderID    *string         `json:"folder_id,omitempty"`
	Messages    *[]chat.Message `json:"messages,omitempty"`
}

// EncodePatch converts a patch to its wire form.
func EncodePatch(p chat.Patch) PatchBody {
	body := PatchBody{Title: p.Title, Model: p.Model, Instruction: p.Instruction, FolderID: p.FolderID}
	if p.MessagesSet {
		msgs := p.Messages
		if msgs == nil {
			msgs = []chat.Message{}
		}
		body.Messages = &msgs
	}
	return body
}

// Patch converts the wire form back.
func (b PatchBody) Patch() chat.Patch {
	p := chat.Patch{Title: b.Title, Model: b.Model, Instruction: b.Instruction, FolderID: b.FolderID}
	if b.Messages != nil {
		p = p.SetMessages(*b.Messages)
	}
	return p
}
