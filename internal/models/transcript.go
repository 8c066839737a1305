package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record types as they appear in the transcript file
const (
	RecordTypeSystem    = "system"
	RecordTypeUser      = "user"
	RecordTypeAssistant = "assistant"
)

// System record subtypes
const (
	SubtypeInit   = "init"
	SubtypeResult = "result"
)

// TranscriptRecord is one line of the agent's append-only transcript file.
// The file is owned by the agent process; records are immutable once written.
type TranscriptRecord struct {
	Type        string       `json:"type"`
	Subtype     string       `json:"subtype,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	UUID        string       `json:"uuid,omitempty"`
	ParentUUID  string       `json:"parentUuid,omitempty"`
	Timestamp   string       `json:"timestamp"`
	Model       string       `json:"model,omitempty"`
	IsMeta      bool         `json:"isMeta,omitempty"`
	IsSidechain bool         `json:"isSidechain,omitempty"`
	Message     *MessageBody `json:"message,omitempty"`
}

// MessageBody is the framed message inside a user or assistant record.
// ID is the vendor-assigned message id; a long reply split across several
// records shares one ID while each record keeps its own UUID.
type MessageBody struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Model   string         `json:"model,omitempty"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or an ordered list of content blocks
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// IsPlainText reports whether the content was a bare string on the wire
func (c *MessageContent) IsPlainText() bool {
	return c.Blocks == nil
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Blocks = nil
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content is neither string nor block list: %w", err)
	}
	c.Blocks = blocks
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// BlockType discriminates the content block variants
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// ContentBlock is a closed tagged variant over the block kinds the agent
// emits. Type selects which field group is meaningful; unknown types are
// carried with just the tag and otherwise ignored.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ToolID    string         `json:"id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	ToolInput map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Result    json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source map[string]any `json:"source,omitempty"`
}

// Time parses the record timestamp. Malformed timestamps yield the zero time
// rather than an error; the transcript clock domain is RFC3339.
func (r *TranscriptRecord) Time() time.Time {
	t, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ContentBlocks returns the record's content blocks, or nil for plain-text
// and message-less records
func (r *TranscriptRecord) ContentBlocks() []ContentBlock {
	if r.Message == nil {
		return nil
	}
	return r.Message.Content.Blocks
}

// PlainText returns the record's content when it is a bare string
func (r *TranscriptRecord) PlainText() string {
	if r.Message == nil || !r.Message.Content.IsPlainText() {
		return ""
	}
	return r.Message.Content.Text
}

// TextContent joins the text blocks of the record, falling back to plain
// string content
func (r *TranscriptRecord) TextContent() string {
	if r.Message == nil {
		return ""
	}
	if r.Message.Content.IsPlainText() {
		return r.Message.Content.Text
	}
	text := ""
	for _, block := range r.Message.Content.Blocks {
		if block.Type == BlockText {
			if text != "" {
				text += "\n"
			}
			text += block.Text
		}
	}
	return text
}

// HasTextBlock reports whether the record carries at least one text block
// (or non-empty plain string content)
func (r *TranscriptRecord) HasTextBlock() bool {
	if r.Message == nil {
		return false
	}
	if r.Message.Content.IsPlainText() {
		return r.Message.Content.Text != ""
	}
	for _, block := range r.Message.Content.Blocks {
		if block.Type == BlockText {
			return true
		}
	}
	return false
}

// IsToolResultOnly reports whether the record's content is exclusively
// tool_result blocks. These user-role records carry tool output back to the
// agent and never start a conversational turn.
func (r *TranscriptRecord) IsToolResultOnly() bool {
	blocks := r.ContentBlocks()
	if len(blocks) == 0 {
		return false
	}
	for _, block := range blocks {
		if block.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// MessageID returns the vendor-assigned message id, if any
func (r *TranscriptRecord) MessageID() string {
	if r.Message == nil {
		return ""
	}
	return r.Message.ID
}
