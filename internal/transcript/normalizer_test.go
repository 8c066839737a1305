package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/models"
)

func userText(uuid, ts, text string) models.TranscriptRecord {
	return models.TranscriptRecord{
		Type:      models.RecordTypeUser,
		UUID:      uuid,
		Timestamp: ts,
		Message:   &models.MessageBody{Role: "user", Content: models.MessageContent{Text: text}},
	}
}

func assistantRecord(uuid, messageID, ts string, blocks ...models.ContentBlock) models.TranscriptRecord {
	return models.TranscriptRecord{
		Type:      models.RecordTypeAssistant,
		UUID:      uuid,
		Timestamp: ts,
		Message:   &models.MessageBody{ID: messageID, Role: "assistant", Content: models.MessageContent{Blocks: blocks}},
	}
}

func userRecord(uuid, ts string, blocks ...models.ContentBlock) models.TranscriptRecord {
	return models.TranscriptRecord{
		Type:      models.RecordTypeUser,
		UUID:      uuid,
		Timestamp: ts,
		Message:   &models.MessageBody{Role: "user", Content: models.MessageContent{Blocks: blocks}},
	}
}

func textBlock(text string) models.ContentBlock {
	return models.ContentBlock{Type: models.BlockText, Text: text}
}

func thinkingBlock(content string) models.ContentBlock {
	return models.ContentBlock{Type: models.BlockThinking, Thinking: content}
}

func toolUseBlock(id, name string) models.ContentBlock {
	return models.ContentBlock{Type: models.BlockToolUse, ToolID: id, ToolName: name}
}

func toolResultBlock(toolUseID string) models.ContentBlock {
	return models.ContentBlock{Type: models.BlockToolResult, ToolUseID: toolUseID}
}

func initRecord(sessionID, model, ts string) models.TranscriptRecord {
	return models.TranscriptRecord{
		Type:      models.RecordTypeSystem,
		Subtype:   models.SubtypeInit,
		SessionID: sessionID,
		Model:     model,
		Timestamp: ts,
	}
}

func eventsOfKind(events []models.SessionEvent, kind models.SessionEventKind) []models.SessionEvent {
	var out []models.SessionEvent
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestNormalize_Init(t *testing.T) {
	events := Normalize([]models.TranscriptRecord{
		initRecord("sess-1", "claude-sonnet-4", "2024-05-01T10:00:00Z"),
	})

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != models.EventInit {
		t.Errorf("expected init event, got %s", events[0].Kind)
	}
	if events[0].SessionID != "sess-1" || events[0].Model != "claude-sonnet-4" {
		t.Errorf("init event missing session/model: %+v", events[0])
	}
}

func TestNormalize_TextEvent(t *testing.T) {
	events := Normalize([]models.TranscriptRecord{
		assistantRecord("a1", "m1", "2024-05-01T10:00:02Z", textBlock("hello")),
	})

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != models.EventText || events[0].Text != "hello" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].RecordUUID != "a1" {
		t.Errorf("expected record uuid a1, got %s", events[0].RecordUUID)
	}
}

func TestNormalize_FIFOPairingInvariant(t *testing.T) {
	// Two interleaved tool invocations without explicit result ids:
	// the Nth result completes the Nth still-open start
	records := []models.TranscriptRecord{
		assistantRecord("a1", "m1", "2024-05-01T10:00:00Z", toolUseBlock("", "Read")),
		assistantRecord("a2", "m2", "2024-05-01T10:00:01Z", toolUseBlock("", "Bash")),
		userRecord("u1", "2024-05-01T10:00:03Z", toolResultBlock("")),
		userRecord("u2", "2024-05-01T10:00:06Z", toolResultBlock("")),
	}

	events := Normalize(records)
	starts := eventsOfKind(events, models.EventToolStart)
	completes := eventsOfKind(events, models.EventToolComplete)

	if len(starts) != 2 || len(completes) != 2 {
		t.Fatalf("expected 2 starts and 2 completes, got %d/%d", len(starts), len(completes))
	}
	if completes[0].ToolName != "Read" || completes[1].ToolName != "Bash" {
		t.Errorf("completions out of FIFO order: %s, %s", completes[0].ToolName, completes[1].ToolName)
	}
	for i, complete := range completes {
		if complete.Duration < 0 {
			t.Errorf("completion %d has negative duration %v", i, complete.Duration)
		}
		if starts[i].Timestamp.After(complete.Timestamp) {
			t.Errorf("completion %d precedes its start", i)
		}
	}
	if completes[0].Duration != 3*time.Second {
		t.Errorf("expected Read duration 3s, got %v", completes[0].Duration)
	}
	if completes[1].Duration != 5*time.Second {
		t.Errorf("expected Bash duration 5s, got %v", completes[1].Duration)
	}
}

func TestNormalize_ExplicitToolIDPreferredOverFIFO(t *testing.T) {
	// Results arrive out of start order but carry explicit ids
	records := []models.TranscriptRecord{
		assistantRecord("a1", "m1", "2024-05-01T10:00:00Z", toolUseBlock("t1", "Read")),
		assistantRecord("a2", "m2", "2024-05-01T10:00:01Z", toolUseBlock("t2", "Bash")),
		userRecord("u1", "2024-05-01T10:00:02Z", toolResultBlock("t2")),
		userRecord("u2", "2024-05-01T10:00:03Z", toolResultBlock("t1")),
	}

	events := Normalize(records)
	completes := eventsOfKind(events, models.EventToolComplete)
	if len(completes) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(completes))
	}
	if completes[0].ToolName != "Bash" || completes[1].ToolName != "Read" {
		t.Errorf("expected id-matched order Bash,Read; got %s,%s", completes[0].ToolName, completes[1].ToolName)
	}
}

func TestNormalize_UnpairedStartLeftOpen(t *testing.T) {
	n := NewNormalizer()
	var events []models.SessionEvent
	events = append(events, n.Push(assistantRecord("a1", "m1", "2024-05-01T10:00:00Z", toolUseBlock("t1", "Read")))...)
	events = append(events, n.Flush()...)

	if len(eventsOfKind(events, models.EventToolComplete)) != 0 {
		t.Error("no completion should be fabricated for an unpaired start")
	}
	if n.OpenToolCount() != 1 {
		t.Errorf("expected 1 open tool, got %d", n.OpenToolCount())
	}
}

func TestNormalize_OrphanResultDropped(t *testing.T) {
	n := NewNormalizer()
	events := n.Push(userRecord("u1", "2024-05-01T10:00:00Z", toolResultBlock("t-unknown")))

	if len(events) != 0 {
		t.Errorf("orphan result must produce no events, got %+v", events)
	}
	if n.DroppedResultCount() != 1 {
		t.Errorf("expected 1 dropped result, got %d", n.DroppedResultCount())
	}
}

func TestNormalize_UnmatchedExplicitIDDropped(t *testing.T) {
	// A result with an explicit id that matches no open start must not
	// complete an unrelated tool by falling back to FIFO
	n := NewNormalizer()
	var events []models.SessionEvent
	events = append(events, n.Push(assistantRecord("a1", "m1", "2024-05-01T10:00:00Z", toolUseBlock("tool-A", "Read")))...)
	events = append(events, n.Push(userRecord("u1", "2024-05-01T10:00:02Z", toolResultBlock("tool-B")))...)

	if len(eventsOfKind(events, models.EventToolComplete)) != 0 {
		t.Error("unmatched result must not complete a different tool")
	}
	if n.DroppedResultCount() != 1 {
		t.Errorf("expected 1 dropped result, got %d", n.DroppedResultCount())
	}
	if n.OpenToolCount() != 1 {
		t.Errorf("tool-A must stay open, got %d open", n.OpenToolCount())
	}

	// The real result still completes its start afterwards
	events = n.Push(userRecord("u2", "2024-05-01T10:00:03Z", toolResultBlock("tool-A")))
	completes := eventsOfKind(events, models.EventToolComplete)
	if len(completes) != 1 || completes[0].ToolID != "tool-A" || completes[0].ToolName != "Read" {
		t.Fatalf("expected tool-A completion, got %+v", completes)
	}
	if n.OpenToolCount() != 0 {
		t.Errorf("expected no open tools, got %d", n.OpenToolCount())
	}
}

func TestNormalize_ThinkingPair(t *testing.T) {
	records := []models.TranscriptRecord{
		assistantRecord("a1", "m1", "2024-05-01T10:00:00Z",
			thinkingBlock("pondering"), textBlock("answer")),
	}

	events := Normalize(records)
	if len(events) != 3 {
		t.Fatalf("expected thinking_start, thinking_complete, text; got %d events", len(events))
	}
	if events[0].Kind != models.EventThinkingStart {
		t.Errorf("expected thinking_start first, got %s", events[0].Kind)
	}
	if events[1].Kind != models.EventThinkingComplete || events[1].Thinking != "pondering" {
		t.Errorf("unexpected thinking_complete: %+v", events[1])
	}
	if events[1].Truncated {
		t.Error("short thinking must not be flagged truncated")
	}
	if events[2].Kind != models.EventText {
		t.Errorf("expected text last, got %s", events[2].Kind)
	}
}

func TestNormalize_ThinkingMergedAcrossFragments(t *testing.T) {
	// Continuation fragments share the vendor message id; their thinking
	// content accumulates into one start/complete pair
	records := []models.TranscriptRecord{
		assistantRecord("a1", "m1", "2024-05-01T10:00:00Z", thinkingBlock("part one ")),
		assistantRecord("a2", "m1", "2024-05-01T10:00:00Z", thinkingBlock("part two")),
		assistantRecord("a3", "m1", "2024-05-01T10:00:01Z", textBlock("done")),
	}

	events := Normalize(records)
	starts := eventsOfKind(events, models.EventThinkingStart)
	completes := eventsOfKind(events, models.EventThinkingComplete)
	if len(starts) != 1 || len(completes) != 1 {
		t.Fatalf("expected one thinking pair, got %d starts / %d completes", len(starts), len(completes))
	}
	if completes[0].Thinking != "part one part two" {
		t.Errorf("expected accumulated content, got %q", completes[0].Thinking)
	}
}

func TestNormalize_ThinkingTruncation(t *testing.T) {
	long := strings.Repeat("x", maxThinkingChars+500)
	events := Normalize([]models.TranscriptRecord{
		assistantRecord("a1", "m1", "2024-05-01T10:00:00Z", thinkingBlock(long), textBlock("ok")),
	})

	completes := eventsOfKind(events, models.EventThinkingComplete)
	if len(completes) != 1 {
		t.Fatalf("expected 1 thinking_complete, got %d", len(completes))
	}
	if !completes[0].Truncated {
		t.Error("expected truncated flag on clipped thinking")
	}
	if len(completes[0].Thinking) != maxThinkingChars {
		t.Errorf("expected clipped content of %d chars, got %d", maxThinkingChars, len(completes[0].Thinking))
	}
}

func TestNormalize_GeneratingMarker(t *testing.T) {
	// An assistant fragment with no content of its own marks generation in
	// progress
	events := Normalize([]models.TranscriptRecord{
		assistantRecord("a1", "m1", "2024-05-01T10:00:00Z"),
	})

	if len(events) != 1 || events[0].Kind != models.EventGenerating {
		t.Fatalf("expected a single generating event, got %+v", events)
	}
}

func TestNormalize_DeterministicAndRestartable(t *testing.T) {
	records := []models.TranscriptRecord{
		initRecord("s", "m", "2024-05-01T10:00:00Z"),
		userText("u1", "2024-05-01T10:00:01Z", "go"),
		assistantRecord("a1", "m1", "2024-05-01T10:00:02Z", thinkingBlock("hm"), toolUseBlock("t1", "Read")),
		userRecord("u2", "2024-05-01T10:00:04Z", toolResultBlock("t1")),
		assistantRecord("a2", "m2", "2024-05-01T10:00:05Z", textBlock("done")),
	}

	first := Normalize(records)
	second := Normalize(records)
	if len(first) != len(second) {
		t.Fatalf("normalization is not deterministic: %d vs %d events", len(first), len(second))
	}
	for i := range first {
		if first[i].Kind != second[i].Kind || first[i].Timestamp != second[i].Timestamp {
			t.Errorf("event %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
