package chat

import (
	"strings"
	"time"
)

// Kind is the closed set of session kinds. A session's kind is fixed at creation.
type Kind int

const (
	KindChat Kind = iota + 1
	KindImage
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindImage:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, Validationf("kind", "unknown session kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a wire kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chat":
		return KindChat, nil
	case "image":
		return KindImage, nil
	default:
		return 0, Validationf("kind", "unknown session kind %q", s)
	}
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType is the payload type of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
)

// Message is one entry of a session conversation.
// Content may only change while Streaming is true.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type,omitempty"`
	MediaURL  string      `json:"media_url,omitempty"`
	Streaming bool        `json:"is_streaming,omitempty"`
	Progress  *int        `json:"progress,omitempty"`
	Failed    bool        `json:"failed,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Finalized reports whether the message content is frozen.
func (m Message) Finalized() bool { return !m.Streaming }

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.Progress != nil {
		p := *m.Progress
		m.Progress = &p
	}
	return m
}

// ImageRecord is a generated image attached to an image session.
type ImageRecord struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	ImageURL  string    `json:"image_url"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a conversation container of a fixed kind.
type Session struct {
	ID                 string        `json:"id"`
	Kind               Kind          `json:"kind"`
	Title              string        `json:"title"`
	FolderID           string        `json:"folder_id,omitempty"`
	Model              string        `json:"model_id,omitempty"`
	Instruction        string        `json:"system_instruction,omitempty"`
	RecommendedPrompts []string      `json:"recommended_prompts,omitempty"`
	Messages           []Message     `json:"messages,omitempty"`
	Records            []ImageRecord `json:"image_records,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	// Hydrated is local state: true once Messages/Records came from a full fetch.
	Hydrated bool `json:"-"`
}

// Clone deep-copies the session.
func (s Session) Clone() Session {
	if s.Messages != nil {
		msgs := make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			msgs[i] = m.Clone()
		}
		s.Messages = msgs
	}
	if s.Records != nil {
		s.Records = append([]ImageRecord(nil), s.Records...)
	}
	if s.RecommendedPrompts != nil {
		s.RecommendedPrompts = append([]string(nil), s.RecommendedPrompts...)
	}
	return s
}

// Summary drops the message and record payload.
func (s Session) Summary() Session {
	out := s
	out.Messages = nil
	out.Records = nil
	out.Hydrated = false
	return out
}

// MessageIndex returns the position of the message with id, or -1.
func (s Session) MessageIndex(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Patch is a partial session update. Kind is intentionally absent.
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Model       *string   `json:"model_id,omitempty"`
	Instruction *string   `json:"system_instruction,omitempty"`
	FolderID    *string   `json:"folder_id,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	// MessagesSet distinguishes "replace with empty list" from "leave unchanged".
	MessagesSet bool `json:"-"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Model == nil && p.Instruction == nil && p.FolderID == nil && !p.MessagesSet
}

// Merge returns p overlaid with next; fields set in next win.
func (p Patch) Merge(next Patch) Patch {
	out := p
	if next.Title != nil {
		out.Title = next.Title
	}
	if next.Model != nil {
		out.Model = next.Model
	}
	if next.Instruction != nil {
		out.Instruction = next.Instruction
	}
	if next.FolderID != nil {
		out.FolderID = next.FolderID
	}
	if next.MessagesSet {
		out.Messages = next.Messages
		out.MessagesSet = true
	}
	return out
}

// Apply writes the patch onto s.
func (p Patch) Apply(s *Session) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.Instruction != nil {
		s.Instruction = *p.Instruction
	}
	if p.FolderID != nil {
		s.FolderID = *p.FolderID
	}
	if p.MessagesSet {
		msgs := make([]Message, len(p.Messages))
		for i, m := range p.Messages {
			msgs[i] = m.Clone()
		}
		s.Messages = msgs
	}
}

// SetMessages marks the patch as replacing the message list.
func (p Patch) SetMessages(msgs []Message) Patch {
	p.Messages = msgs
	p.MessagesSet = true
	return p
}

// String returns a pointer to v, for building patches.
func String(v string) *string { return &v }

// FolderType distinguishes user folders from planner-generated projects.
type FolderType string

const (
	FolderPlain   FolderType = "plain"
	FolderPlanned FolderType = "shorts-workflow"
)

// Folder groups sessions.
type Folder struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       FolderType `json:"type"`
	SessionIDs []string   `json:"session_ids,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// JobStatus is the backend-reported state of an asynchronous job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailure JobStatus = "failure"
)

// Terminal reports whether no further transitions can follow.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailure
}

// Job is a submitted unit of asynchronous work.
type Job struct {
	TaskID    string `json:"task_id"`
	JobID     string `json:"job_id,omitempty"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Kind      Kind   `json:"kind"`
}

// JobState is a single poll response.
type JobState struct {
	TaskID  string       `json:"task_id"`
	Status  JobStatus    `json:"status"`
	Error   string       `json:"error,omitempty"`
	Message *Message     `json:"message,omitempty"`
	Image   *ImageRecord `json:"image,omitempty"`
}

// Outcome is the client-observed end of a job.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Step is one planner-produced project step.
type Step struct {
	Title       string `json:"title"`
	Model       string `json:"model"`
	Instruction string `json:"instruction"`
}
