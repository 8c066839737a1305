package session

import (
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/convstore"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
)

// Registry manages durable thread session records keyed by conversation and
// sub-thread. All mutations go through the conversation store's per-key
// lock, so concurrent triggers for the same conversation never lose updates.
type Registry struct {
	store *convstore.Store
}

// CreateOptions seeds a newly created thread session
type CreateOptions struct {
	// ForkedFrom is the internal message id the thread forked from; when
	// set the thread starts in the forked state
	ForkedFrom        string
	ResumeAtMessageID string
	WorkingDir        string
	PermissionMode    string
}

// NewRegistry creates a registry backed by the given store
func NewRegistry(store *convstore.Store) *Registry {
	return &Registry{store: store}
}

// GetOrCreate returns the existing thread session or creates one, persisting
// immediately. The boolean reports whether a new record was created.
// Archived records are terminal and never resurface here: a recurring key
// gets a fresh record.
func (r *Registry) GetOrCreate(conversationID, threadKey string, opts CreateOptions) (*models.ThreadSession, bool, error) {
	if threadKey == "" {
		return nil, false, fmt.Errorf("thread key cannot be empty")
	}

	var result *models.ThreadSession
	created := false

	err := r.store.Update(conversationID, func(doc *models.ConversationDoc) error {
		if existing, ok := doc.Threads[threadKey]; ok {
			copied := *existing
			result = &copied
			return nil
		}

		now := time.Now().UTC()
		state := models.ThreadUninitialized
		if opts.ForkedFrom != "" {
			state = models.ThreadForked
		}
		thread := &models.ThreadSession{
			ThreadKey:         threadKey,
			State:             state,
			ForkedFrom:        opts.ForkedFrom,
			ResumeAtMessageID: opts.ResumeAtMessageID,
			WorkingDir:        opts.WorkingDir,
			PermissionMode:    opts.PermissionMode,
			CreatedAt:         now,
			LastActiveAt:      now,
		}
		doc.Threads[threadKey] = thread
		created = true

		copied := *thread
		result = &copied
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// Get returns a copy of the thread session, or nil when the key is unknown
func (r *Registry) Get(conversationID, threadKey string) (*models.ThreadSession, error) {
	var result *models.ThreadSession
	err := r.store.View(conversationID, func(doc *models.ConversationDoc) {
		if thread, ok := doc.Threads[threadKey]; ok {
			copied := *thread
			result = &copied
		}
	})
	return result, err
}

// List returns copies of all live (non-archived) thread sessions
func (r *Registry) List(conversationID string) ([]*models.ThreadSession, error) {
	var threads []*models.ThreadSession
	err := r.store.View(conversationID, func(doc *models.ConversationDoc) {
		for _, thread := range doc.Threads {
			copied := *thread
			threads = append(threads, &copied)
		}
	})
	return threads, err
}

// MarkActive records the real agent session id after the first successful
// agent turn, transitioning the thread to the active state
func (r *Registry) MarkActive(conversationID, threadKey, sessionID string) error {
	return r.mutate(conversationID, threadKey, func(thread *models.ThreadSession) error {
		if thread.State == models.ThreadArchived {
			return fmt.Errorf("thread %s is archived", threadKey)
		}
		thread.SessionID = sessionID
		thread.State = models.ThreadActive
		thread.LastActiveAt = time.Now().UTC()
		return nil
	})
}

// Touch refreshes the thread's last-active timestamp
func (r *Registry) Touch(conversationID, threadKey string) error {
	return r.mutate(conversationID, threadKey, func(thread *models.ThreadSession) error {
		thread.LastActiveAt = time.Now().UTC()
		return nil
	})
}

// Configure records the working path a user pinned to the thread
func (r *Registry) Configure(conversationID, threadKey, path, configuredBy string) error {
	return r.mutate(conversationID, threadKey, func(thread *models.ThreadSession) error {
		thread.ConfiguredPath = path
		thread.ConfiguredBy = configuredBy
		thread.ConfiguredAt = time.Now().UTC()
		return nil
	})
}

// Archive removes the thread from the live registry. Archival is terminal:
// the record is kept for audit but never reused, and a later GetOrCreate
// for the same key produces a fresh record.
func (r *Registry) Archive(conversationID, threadKey string) error {
	return r.store.Update(conversationID, func(doc *models.ConversationDoc) error {
		thread, ok := doc.Threads[threadKey]
		if !ok {
			return fmt.Errorf("no thread session for key %s", threadKey)
		}
		thread.State = models.ThreadArchived
		doc.ArchivedThreads = append(doc.ArchivedThreads, thread)
		delete(doc.Threads, threadKey)
		logger.Infof("Archived thread %s in conversation %s", threadKey, conversationID)
		return nil
	})
}

func (r *Registry) mutate(conversationID, threadKey string, fn func(*models.ThreadSession) error) error {
	return r.store.Update(conversationID, func(doc *models.ConversationDoc) error {
		thread, ok := doc.Threads[threadKey]
		if !ok {
			return fmt.Errorf("no thread session for key %s", threadKey)
		}
		return fn(thread)
	})
}
