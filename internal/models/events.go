package models

import "time"

// SessionEventKind discriminates normalized transcript events
type SessionEventKind string

const (
	EventInit             SessionEventKind = "init"
	EventText             SessionEventKind = "text"
	EventThinkingStart    SessionEventKind = "thinking_start"
	EventThinkingComplete SessionEventKind = "thinking_complete"
	EventToolStart        SessionEventKind = "tool_start"
	EventToolComplete     SessionEventKind = "tool_complete"
	EventGenerating       SessionEventKind = "generating"
)

// SessionEvent is the normalized, typed output of the event normalizer.
// Events are produced in file order; completions are emitted in the same
// relative order as their corresponding starts.
type SessionEvent struct {
	Kind      SessionEventKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`

	// RecordUUID is the uuid of the transcript record the event derived from
	RecordUUID string `json:"record_uuid,omitempty"`

	// init
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// text
	Text string `json:"text,omitempty"`

	// thinking_complete
	Thinking  string `json:"thinking,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`

	// tool_start / tool_complete
	ToolID    string         `json:"tool_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
}

// ActivityEntry is the subset of session events retained for live progress
// display. Entries are ordered and append-only within one turn.
type ActivityEntry struct {
	ID        string           `json:"id"`
	Kind      SessionEventKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	ToolName  string           `json:"tool_name,omitempty"`
	Duration  time.Duration    `json:"duration,omitempty"`
	Thinking  string           `json:"thinking,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Segment is the smallest display unit of a turn: zero or more activity
// records followed by exactly one rendered text output. Continuations holds
// later fragments of a reply the rendering layer split across several
// records; they belong to this segment, not a new one.
type Segment struct {
	ActivityMessages []TranscriptRecord `json:"activity_messages,omitempty"`
	TextOutput       TranscriptRecord   `json:"text_output"`
	Continuations    []TranscriptRecord `json:"continuations,omitempty"`
}

// Text joins the segment's rendered output across continuation fragments
func (s *Segment) Text() string {
	text := s.TextOutput.TextContent()
	for _, cont := range s.Continuations {
		if t := cont.TextContent(); t != "" {
			if text != "" {
				text += "\n"
			}
			text += t
		}
	}
	return text
}

// Turn is one user input through the agent's full reply to it.
// PendingActivity holds activity observed after the last closed segment;
// it is folded into a segment once the closing text output arrives.
type Turn struct {
	UserInput       TranscriptRecord   `json:"user_input"`
	Segments        []Segment          `json:"segments"`
	PendingActivity []TranscriptRecord `json:"pending_activity,omitempty"`
}
