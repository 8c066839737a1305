package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/models"
)

func collectEvents(t *testing.T, ch <-chan models.SessionEvent, n int, timeout time.Duration) []models.SessionEvent {
	t.Helper()
	var events []models.SessionEvent
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case event, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(events), n)
			}
			events = append(events, event)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(events))
		}
	}
	return events
}

func TestWatch_EmitsEventsAsFileGrows(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"system","subtype":"init","session_id":"s1","timestamp":"2024-05-01T10:00:00Z"}`,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := NewReader(path).Watch(ctx, WatchOptions{PollInterval: 20 * time.Millisecond})

	first := collectEvents(t, events, 1, 2*time.Second)
	if first[0].Kind != models.EventInit {
		t.Fatalf("expected init event first, got %s", first[0].Kind)
	}

	appendTranscript(t, path,
		`{"type":"assistant","uuid":"a1","timestamp":"2024-05-01T10:00:01Z","message":{"id":"m1","content":[{"type":"text","text":"hi"}]}}`,
	)

	next := collectEvents(t, events, 1, 2*time.Second)
	if next[0].Kind != models.EventText || next[0].Text != "hi" {
		t.Fatalf("expected text event for appended record, got %+v", next[0])
	}
}

func TestWatch_CancellationClosesChannel(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"system","subtype":"init","session_id":"s1","timestamp":"2024-05-01T10:00:00Z"}`,
	)

	ctx, cancel := context.WithCancel(context.Background())
	events := NewReader(path).Watch(ctx, WatchOptions{PollInterval: 20 * time.Millisecond})

	collectEvents(t, events, 1, 2*time.Second)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// A buffered event may still be in flight; drain until close
			for range events {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed within two poll intervals of cancellation")
	}
}

func TestWatch_FinishesAfterTerminalRecord(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"system","subtype":"init","session_id":"s1","timestamp":"2024-05-01T10:00:00Z"}`,
		`{"type":"assistant","uuid":"a1","timestamp":"2024-05-01T10:00:01Z","message":{"id":"m1","content":[{"type":"text","text":"bye"}]}}`,
		`{"type":"system","subtype":"result","timestamp":"2024-05-01T10:00:02Z"}`,
	)

	ctx := context.Background()
	events := NewReader(path).Watch(ctx, WatchOptions{
		PollInterval:  20 * time.Millisecond,
		StopAfterIdle: 50 * time.Millisecond,
	})

	var kinds []models.SessionEventKind
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				if len(kinds) != 2 {
					t.Fatalf("expected init and text before finish, got %v", kinds)
				}
				return
			}
			kinds = append(kinds, event.Kind)
		case <-deadline:
			t.Fatal("watch did not finish after terminal record and idle period")
		}
	}
}
