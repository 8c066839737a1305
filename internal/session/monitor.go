package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
	"github.com/loomhq/loom/internal/transcript"
)

// Monitor tails conversation transcripts and fans normalized activity into
// per-turn contexts and live subscribers. One tail per conversation; turn
// processing within a conversation is strictly sequential, independent
// conversations run concurrently.
type Monitor struct {
	mu    sync.Mutex
	tails map[string]*tail
}

// TailOptions configures one conversation tail
type TailOptions struct {
	ThreadKey    string
	PollInterval time.Duration
	// RetainCompleted keeps the finished turn's activity log for later
	// retrieval instead of discarding it at turn completion
	RetainCompleted bool
}

type tail struct {
	cancel      context.CancelFunc
	done        chan struct{}
	turn        *TurnContext
	opts        TailOptions
	mu          sync.Mutex
	retained    []models.ActivityEntry
	subscribers map[chan models.ActivityEntry]struct{}
}

// NewMonitor creates a monitor with no active tails
func NewMonitor() *Monitor {
	return &Monitor{tails: make(map[string]*tail)}
}

// StartTail begins watching a conversation's transcript. Starting a tail for
// a conversation that already has one is an error; stop it first.
func (m *Monitor) StartTail(ctx context.Context, conversationID, transcriptPath string, opts TailOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tails[conversationID]; exists {
		return fmt.Errorf("conversation %s is already being tailed", conversationID)
	}

	tailCtx, cancel := context.WithCancel(ctx)
	t := &tail{
		cancel:      cancel,
		done:        make(chan struct{}),
		turn:        NewTurnContext(conversationID, opts.ThreadKey),
		opts:        opts,
		subscribers: make(map[chan models.ActivityEntry]struct{}),
	}
	m.tails[conversationID] = t

	reader := transcript.NewReader(transcriptPath)
	events := reader.Watch(tailCtx, transcript.WatchOptions{PollInterval: opts.PollInterval})

	go m.consume(conversationID, t, events)
	logger.Infof("Tailing transcript %s for conversation %s", transcriptPath, conversationID)
	return nil
}

func (m *Monitor) consume(conversationID string, t *tail, events <-chan models.SessionEvent) {
	defer close(t.done)

	for event := range events {
		if event.Kind == models.EventText {
			// A rendered text output completes the in-flight turn
			t.mu.Lock()
			if t.opts.RetainCompleted {
				t.retained = t.turn.Snapshot()
			}
			t.mu.Unlock()
			t.turn.Reset()
			continue
		}

		entry := t.turn.Observe(event)
		if entry == nil {
			continue
		}
		t.broadcast(*entry)
	}

	logger.Debugf("Tail for conversation %s finished", conversationID)
}

func (t *tail) broadcast(entry models.ActivityEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subscribers {
		select {
		case ch <- entry:
		default:
			// Slow subscribers miss entries rather than stall the tail
		}
	}
}

// StopTail cancels a conversation's tail and waits for it to drain
func (m *Monitor) StopTail(conversationID string) {
	m.mu.Lock()
	t, ok := m.tails[conversationID]
	if ok {
		delete(m.tails, conversationID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	t.cancel()
	<-t.done

	t.mu.Lock()
	for ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = make(map[chan models.ActivityEntry]struct{})
	t.mu.Unlock()
}

// StopAll cancels every tail
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tails))
	for id := range m.tails {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopTail(id)
	}
}

// Activity returns the in-flight turn's activity log for a conversation
func (m *Monitor) Activity(conversationID string) []models.ActivityEntry {
	m.mu.Lock()
	t, ok := m.tails[conversationID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return t.turn.Snapshot()
}

// RetainedActivity returns the last completed turn's activity log, when the
// tail was started with retention enabled
func (m *Monitor) RetainedActivity(conversationID string) []models.ActivityEntry {
	m.mu.Lock()
	t, ok := m.tails[conversationID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]models.ActivityEntry, len(t.retained))
	copy(entries, t.retained)
	return entries
}

// Subscribe returns a channel of live activity entries for a conversation
// and a cancel function. The channel is closed when the tail stops.
func (m *Monitor) Subscribe(conversationID string) (<-chan models.ActivityEntry, func(), error) {
	m.mu.Lock()
	t, ok := m.tails[conversationID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("conversation %s is not being tailed", conversationID)
	}

	ch := make(chan models.ActivityEntry, 32)
	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if _, still := t.subscribers[ch]; still {
			delete(t.subscribers, ch)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, cancel, nil
}
