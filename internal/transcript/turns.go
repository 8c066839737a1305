package transcript

import (
	"github.com/loomhq/loom/internal/models"
)

// GroupByTurn partitions a record sequence into conversational turns. A turn
// begins at each user-authored record that carries actual input (synthetic
// and tool-result-carrier records don't start turns). Within a turn, a
// segment closes at each rendered text output; reply fragments the rendering
// layer split across records are merged back into the segment they belong
// to, so textOutput uuids stay pairwise distinct across segments.
func GroupByTurn(records []models.TranscriptRecord) []models.Turn {
	var turns []models.Turn
	var current *models.Turn
	var pending []models.TranscriptRecord

	// Vendor message id of the last closed segment's text output; cleared
	// once any activity intervenes, which ends the continuation run.
	lastClosedMessageID := ""

	closeTurn := func() {
		if current == nil {
			return
		}
		current.PendingActivity = pending
		turns = append(turns, *current)
		current = nil
		pending = nil
		lastClosedMessageID = ""
	}

	for _, record := range records {
		switch record.Type {
		case models.RecordTypeUser:
			if isTurnStart(record) {
				closeTurn()
				current = &models.Turn{UserInput: record}
				continue
			}
			if current != nil && record.IsToolResultOnly() {
				pending = append(pending, record)
				lastClosedMessageID = ""
			}

		case models.RecordTypeAssistant:
			if current == nil {
				// Replies with no preceding user input in this span
				// (e.g. records carried over by a resumed session)
				continue
			}

			hasText := record.HasTextBlock()
			hasActivity := hasActivityBlocks(record)

			// A fragment of the previous text output: same vendor message
			// id, no independent activity, nothing in between
			if hasText && !hasActivity && len(pending) == 0 &&
				lastClosedMessageID != "" && record.MessageID() == lastClosedMessageID {
				last := &current.Segments[len(current.Segments)-1]
				last.Continuations = append(last.Continuations, record)
				continue
			}

			if hasText {
				current.Segments = append(current.Segments, models.Segment{
					ActivityMessages: pending,
					TextOutput:       record,
				})
				pending = nil
				lastClosedMessageID = record.MessageID()
				continue
			}

			if hasActivity {
				pending = append(pending, record)
				lastClosedMessageID = ""
			}
		}
	}

	closeTurn()
	return turns
}

// isTurnStart reports whether a user record begins a new conversational
// turn. Meta and sidechain records are synthetic; tool-result-only records
// carry tool output back to the agent, not user input.
func isTurnStart(record models.TranscriptRecord) bool {
	if record.Type != models.RecordTypeUser || record.IsMeta || record.IsSidechain {
		return false
	}
	if record.IsToolResultOnly() {
		return false
	}
	return record.HasTextBlock()
}

// hasActivityBlocks reports whether the record carries tool or thinking
// activity of its own
func hasActivityBlocks(record models.TranscriptRecord) bool {
	for _, block := range record.ContentBlocks() {
		switch block.Type {
		case models.BlockThinking, models.BlockToolUse, models.BlockToolResult:
			return true
		}
	}
	return false
}
