package transcript

import (
	"time"

	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
)

const (
	// maxThinkingChars clips accumulated thinking content carried on
	// thinking_complete events
	maxThinkingChars = 10000

	// thinkingTolerance is the window for re-associating thinking content
	// from a continuation fragment with the open thinking event. This is a
	// best-effort heuristic, not an exact join: fragments outside the window
	// start a fresh thinking event even when they belong together.
	thinkingTolerance = time.Second
)

// Normalizer converts raw transcript records into typed session events.
// Tool starts and results are paired by explicit tool-use id when the record
// carries one, and by FIFO order otherwise: the Nth result completes the Nth
// still-open start. Pure FIFO assumes the agent never completes tool B
// before tool A when A started first; that holds for the agent's serial
// execution model but is not verified for fully parallel tool use.
type Normalizer struct {
	openTools      []openTool
	pending        *pendingThinking
	droppedResults int
}

type openTool struct {
	id         string
	name       string
	input      map[string]any
	startedAt  time.Time
	recordUUID string
}

type pendingThinking struct {
	content    string
	truncated  bool
	messageID  string
	startedAt  time.Time
	lastSeenAt time.Time
	recordUUID string
}

// NewNormalizer creates a normalizer with empty pairing state
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts a complete record sequence into session events. It is a
// pure function of its input: restartable and deterministic.
func Normalize(records []models.TranscriptRecord) []models.SessionEvent {
	n := NewNormalizer()
	var events []models.SessionEvent
	for _, record := range records {
		events = append(events, n.Push(record)...)
	}
	return append(events, n.Flush()...)
}

// Push feeds one record and returns the events it produced. Completions for
// still-open starts may be produced by later records.
func (n *Normalizer) Push(record models.TranscriptRecord) []models.SessionEvent {
	switch record.Type {
	case models.RecordTypeSystem:
		return n.pushSystem(record)
	case models.RecordTypeAssistant:
		return n.pushAssistant(record)
	case models.RecordTypeUser:
		return n.pushUser(record)
	default:
		return nil
	}
}

func (n *Normalizer) pushSystem(record models.TranscriptRecord) []models.SessionEvent {
	if record.Subtype != models.SubtypeInit {
		return nil
	}
	events := n.flushThinking()
	return append(events, models.SessionEvent{
		Kind:       models.EventInit,
		Timestamp:  record.Time(),
		RecordUUID: record.UUID,
		SessionID:  record.SessionID,
		Model:      record.Model,
	})
}

func (n *Normalizer) pushAssistant(record models.TranscriptRecord) []models.SessionEvent {
	var events []models.SessionEvent
	ts := record.Time()

	if record.Message != nil && record.Message.Content.IsPlainText() {
		if record.Message.Content.Text == "" {
			return append(events, models.SessionEvent{
				Kind:       models.EventGenerating,
				Timestamp:  ts,
				RecordUUID: record.UUID,
			})
		}
		events = append(events, n.flushThinking()...)
		return append(events, models.SessionEvent{
			Kind:       models.EventText,
			Timestamp:  ts,
			RecordUUID: record.UUID,
			Text:       record.Message.Content.Text,
		})
	}

	sawText := false
	sawTool := false
	sawThinking := false
	for _, block := range record.ContentBlocks() {
		switch block.Type {
		case models.BlockThinking:
			events = append(events, n.pushThinkingBlock(record, block, ts)...)
			sawThinking = true

		case models.BlockText:
			events = append(events, n.flushThinking()...)
			events = append(events, models.SessionEvent{
				Kind:       models.EventText,
				Timestamp:  ts,
				RecordUUID: record.UUID,
				Text:       block.Text,
			})
			sawText = true

		case models.BlockToolUse:
			events = append(events, n.flushThinking()...)
			n.openTools = append(n.openTools, openTool{
				id:         block.ToolID,
				name:       block.ToolName,
				input:      block.ToolInput,
				startedAt:  ts,
				recordUUID: record.UUID,
			})
			events = append(events, models.SessionEvent{
				Kind:       models.EventToolStart,
				Timestamp:  ts,
				RecordUUID: record.UUID,
				ToolID:     block.ToolID,
				ToolName:   block.ToolName,
				ToolInput:  block.ToolInput,
			})
			sawTool = true

		case models.BlockToolResult:
			// Tool results normally ride user records, but tolerate them here
			if event, ok := n.completeTool(block, ts, record.UUID); ok {
				events = append(events, n.flushThinking()...)
				events = append(events, event)
			}

		case models.BlockImage:
			// Images carry no progress semantics
		}
	}

	// A reply fragment with no content of its own means the agent is still
	// producing its answer; thinking fragments already signal progress
	if !sawText && !sawTool && !sawThinking {
		events = append(events, models.SessionEvent{
			Kind:       models.EventGenerating,
			Timestamp:  ts,
			RecordUUID: record.UUID,
		})
	}

	return events
}

func (n *Normalizer) pushUser(record models.TranscriptRecord) []models.SessionEvent {
	var events []models.SessionEvent
	ts := record.Time()

	for _, block := range record.ContentBlocks() {
		if block.Type != models.BlockToolResult {
			continue
		}
		if event, ok := n.completeTool(block, ts, record.UUID); ok {
			events = append(events, n.flushThinking()...)
			events = append(events, event)
		}
	}

	return events
}

// pushThinkingBlock opens a thinking event or extends the pending one.
// Content from a continuation fragment is merged when the fragment shares
// the vendor message id or arrives within the tolerance window.
func (n *Normalizer) pushThinkingBlock(record models.TranscriptRecord, block models.ContentBlock, ts time.Time) []models.SessionEvent {
	if n.pending != nil {
		sameMessage := n.pending.messageID != "" && n.pending.messageID == record.MessageID()
		withinWindow := !ts.IsZero() && !n.pending.lastSeenAt.IsZero() &&
			absDuration(ts.Sub(n.pending.lastSeenAt)) <= thinkingTolerance
		if sameMessage || withinWindow {
			n.appendThinking(block.Thinking)
			n.pending.lastSeenAt = ts
			return nil
		}
	}

	events := n.flushThinking()
	n.pending = &pendingThinking{
		messageID:  record.MessageID(),
		startedAt:  ts,
		lastSeenAt: ts,
		recordUUID: record.UUID,
	}
	n.appendThinking(block.Thinking)
	return append(events, models.SessionEvent{
		Kind:       models.EventThinkingStart,
		Timestamp:  ts,
		RecordUUID: record.UUID,
	})
}

func (n *Normalizer) appendThinking(content string) {
	if n.pending.truncated {
		return
	}
	remaining := maxThinkingChars - len(n.pending.content)
	if len(content) > remaining {
		n.pending.content += content[:remaining]
		n.pending.truncated = true
		return
	}
	n.pending.content += content
}

// flushThinking closes the pending thinking event, if any
func (n *Normalizer) flushThinking() []models.SessionEvent {
	if n.pending == nil {
		return nil
	}
	event := models.SessionEvent{
		Kind:       models.EventThinkingComplete,
		Timestamp:  n.pending.lastSeenAt,
		RecordUUID: n.pending.recordUUID,
		Thinking:   n.pending.content,
		Truncated:  n.pending.truncated,
	}
	n.pending = nil
	return []models.SessionEvent{event}
}

// completeTool pairs a tool_result block with an open tool_start. A result
// with no open start is dropped with a diagnostic.
func (n *Normalizer) completeTool(block models.ContentBlock, ts time.Time, recordUUID string) (models.SessionEvent, bool) {
	if len(n.openTools) == 0 {
		n.droppedResults++
		logger.Debugf("Dropping tool_result %s with no open tool_start", block.ToolUseID)
		return models.SessionEvent{}, false
	}

	// A result carrying an explicit invocation id pairs only with that
	// start; pure FIFO applies only to results without an id. Completing an
	// unrelated start would attribute a wrong tool and duration to it.
	index := -1
	if block.ToolUseID != "" {
		for i, open := range n.openTools {
			if open.id == block.ToolUseID {
				index = i
				break
			}
		}
		if index < 0 {
			n.droppedResults++
			logger.Debugf("Dropping tool_result %s with no matching open tool_start", block.ToolUseID)
			return models.SessionEvent{}, false
		}
	} else {
		index = 0
	}

	open := n.openTools[index]
	n.openTools = append(n.openTools[:index], n.openTools[index+1:]...)

	duration := ts.Sub(open.startedAt)
	if duration < 0 {
		duration = 0
	}

	return models.SessionEvent{
		Kind:       models.EventToolComplete,
		Timestamp:  ts,
		RecordUUID: recordUUID,
		ToolID:     open.id,
		ToolName:   open.name,
		Duration:   duration,
	}, true
}

// Flush emits events for state that can only close at end-of-read: the
// pending thinking block. Unpaired tool starts stay open and are reported
// via OpenToolCount, never fabricated into completions.
func (n *Normalizer) Flush() []models.SessionEvent {
	return n.flushThinking()
}

// OpenToolCount returns the number of tool starts with no result yet
func (n *Normalizer) OpenToolCount() int {
	return len(n.openTools)
}

// DroppedResultCount returns the number of tool results that arrived with
// no open start
func (n *Normalizer) DroppedResultCount() int {
	return n.droppedResults
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
