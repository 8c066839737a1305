package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/models"
)

// TurnContext owns the activity log for one in-flight conversational turn.
// It is created by whoever processes the turn and passed by reference into
// anything that observes events, so no activity state outlives its turn or
// leaks across conversations.
type TurnContext struct {
	ConversationID string
	ThreadKey      string

	mu      sync.Mutex
	entries []models.ActivityEntry
}

// NewTurnContext creates an empty activity context for one turn
func NewTurnContext(conversationID, threadKey string) *TurnContext {
	return &TurnContext{
		ConversationID: conversationID,
		ThreadKey:      threadKey,
	}
}

// Observe appends an activity entry for events relevant to progress
// display. Other event kinds are ignored.
func (c *TurnContext) Observe(event models.SessionEvent) *models.ActivityEntry {
	switch event.Kind {
	case models.EventThinkingComplete, models.EventToolStart,
		models.EventToolComplete, models.EventGenerating:
	default:
		return nil
	}

	entry := models.ActivityEntry{
		ID:        uuid.NewString(),
		Kind:      event.Kind,
		Timestamp: event.Timestamp,
		ToolName:  event.ToolName,
		Duration:  event.Duration,
		Thinking:  event.Thinking,
		Truncated: event.Truncated,
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
	return &entry
}

// Snapshot returns a copy of the activity log so far
func (c *TurnContext) Snapshot() []models.ActivityEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]models.ActivityEntry, len(c.entries))
	copy(entries, c.entries)
	return entries
}

// Len returns the number of recorded entries
func (c *TurnContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset discards the log at turn completion
func (c *TurnContext) Reset() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}
