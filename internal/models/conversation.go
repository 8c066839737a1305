package models

import "time"

// MessageKind classifies an indexed external message
type MessageKind string

const (
	MessageKindUser      MessageKind = "user"
	MessageKindAssistant MessageKind = "assistant"
)

// MessageIndexEntry maps one externally visible message reference to the
// agent's internal message identifier. Entries are created once, never
// mutated, and appended in external-timestamp order.
type MessageIndexEntry struct {
	// ExternalRef is the platform-visible identifier (e.g. a message timestamp)
	ExternalRef string `json:"external_ref"`
	// PostedAt orders entries in the platform's clock domain
	PostedAt          time.Time   `json:"posted_at"`
	InternalMessageID string      `json:"internal_message_id"`
	Kind              MessageKind `json:"kind"`
	// ParentRef links a reply to the message it responded to when platform
	// threading doesn't express it directly
	ParentRef string `json:"parent_ref,omitempty"`
	// IsContinuation marks secondary fragments of one logical internal
	// message split across multiple external posts
	IsContinuation bool `json:"is_continuation,omitempty"`
}

// ThreadState is the lifecycle state of a thread session
type ThreadState string

const (
	ThreadUninitialized ThreadState = "uninitialized"
	ThreadActive        ThreadState = "active"
	ThreadForked        ThreadState = "forked"
	ThreadArchived      ThreadState = "archived"
)

// ThreadSession is the durable state of one conversation sub-thread.
// Created when the thread is first addressed, mutated on every turn, and
// archived only by explicit user action.
type ThreadSession struct {
	ThreadKey string      `json:"thread_key"`
	State     ThreadState `json:"state"`
	// SessionID is the agent session id, set once the agent first responds
	SessionID string `json:"session_id,omitempty"`
	// ForkedFrom is the internal message id this thread resumed from
	ForkedFrom        string    `json:"forked_from,omitempty"`
	ResumeAtMessageID string    `json:"resume_at_message_id,omitempty"`
	WorkingDir        string    `json:"working_dir,omitempty"`
	PermissionMode    string    `json:"permission_mode,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastActiveAt      time.Time `json:"last_active_at"`
	ConfiguredPath    string    `json:"configured_path,omitempty"`
	ConfiguredBy      string    `json:"configured_by,omitempty"`
	ConfiguredAt      time.Time `json:"configured_at,omitempty"`
}

// ConversationDoc is the keyed durable document for one conversation: its
// thread registry and message index. Read fully on first access, rewritten
// fully on each mutation.
type ConversationDoc struct {
	ConversationID string                    `json:"conversation_id"`
	Threads        map[string]*ThreadSession `json:"threads"`
	// ArchivedThreads keeps terminal records; archived threads are never
	// reused even when the same key recurs
	ArchivedThreads []*ThreadSession    `json:"archived_threads,omitempty"`
	Index           []MessageIndexEntry `json:"message_index,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}
