package transcript

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
)

// WatchOptions configures a transcript watch
type WatchOptions struct {
	// PollInterval is the tick between incremental reads. Defaults to 500ms.
	PollInterval time.Duration
	// FromOffset starts the watch partway into the file
	FromOffset int64
	// StopAfterIdle, when positive, ends the watch once a terminal record
	// has been observed and the file stops growing for this long. Zero
	// means run until the context is cancelled.
	StopAfterIdle time.Duration
}

// Watch emits normalized session events as the transcript grows. It is a
// cooperative polling loop: each tick performs an incremental read and
// emits any new events. Filesystem notifications, when available, wake the
// loop early; cancellation takes effect within one poll interval. The
// channel is closed when the watch ends.
func (r *Reader) Watch(ctx context.Context, opts WatchOptions) <-chan models.SessionEvent {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	out := make(chan models.SessionEvent, 64)
	go r.watchLoop(ctx, opts, out)
	return out
}

func (r *Reader) watchLoop(ctx context.Context, opts WatchOptions, out chan<- models.SessionEvent) {
	defer close(out)

	normalizer := NewNormalizer()
	offset := opts.FromOffset
	sawTerminal := false
	lastGrowth := time.Now()

	// fsnotify wakes the loop early on writes; the poll tick remains the
	// correctness mechanism, so a failed watcher just means slower pickup
	var fsEvents chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(filepath.Dir(r.path)); err == nil {
			fsEvents = make(chan fsnotify.Event, 16)
			go forwardFileEvents(ctx, watcher, r.path, fsEvents)
		} else {
			logger.Debugf("Cannot watch transcript directory %s: %v", filepath.Dir(r.path), err)
		}
		defer watcher.Close()
	} else {
		logger.Debugf("fsnotify unavailable, falling back to pure polling: %v", err)
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		records, newOffset, err := r.ReadIncremental(offset)
		if err != nil {
			logger.Warnf("Transcript read failed for %s: %v", r.path, err)
		}
		if newOffset != offset {
			lastGrowth = time.Now()
		}
		offset = newOffset

		for _, record := range records {
			if isTerminalRecord(record) {
				sawTerminal = true
			}
			for _, event := range normalizer.Push(record) {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}

		if sawTerminal && opts.StopAfterIdle > 0 && time.Since(lastGrowth) >= opts.StopAfterIdle {
			for _, event := range normalizer.Flush() {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-fsEvents:
		}
	}
}

// forwardFileEvents relays write/create events for the watched file
func forwardFileEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, out chan<- fsnotify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case out <- event:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Debugf("fsnotify error: %v", err)
		}
	}
}

// isTerminalRecord reports whether the record marks the end of the
// producing process's run
func isTerminalRecord(record models.TranscriptRecord) bool {
	if record.Type == models.SubtypeResult {
		return true
	}
	return record.Type == models.RecordTypeSystem && record.Subtype == models.SubtypeResult
}
