package convstore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
)

// Store persists one JSON document per conversation: its thread registry and
// message index. Documents are loaded lazily, cached, and rewritten fully on
// each mutation. All read-modify-write cycles for a conversation are
// serialized through a per-conversation lock.
type Store struct {
	dir string

	mu            sync.Mutex
	conversations map[string]*handle
}

type handle struct {
	mu     sync.Mutex
	doc    *models.ConversationDoc
	loaded bool
}

// NewStore creates a store rooted at dir, creating it if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{
		dir:           dir,
		conversations: make(map[string]*handle),
	}, nil
}

// View calls fn with the conversation's document under its lock. The
// document must not be retained or mutated by fn.
func (s *Store) View(conversationID string, fn func(doc *models.ConversationDoc)) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	h := s.handleFor(conversationID)
	h.mu.Lock()
	defer h.mu.Unlock()

	s.ensureLoaded(conversationID, h)
	fn(h.doc)
	return nil
}

// Update calls fn with the conversation's document under its lock and, when
// fn succeeds, persists the whole document atomically. A concurrent Update
// for the same conversation blocks until this one's write completes, so
// read-modify-write cycles never interleave.
func (s *Store) Update(conversationID string, fn func(doc *models.ConversationDoc) error) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	h := s.handleFor(conversationID)
	h.mu.Lock()
	defer h.mu.Unlock()

	s.ensureLoaded(conversationID, h)
	if err := fn(h.doc); err != nil {
		return err
	}
	h.doc.UpdatedAt = time.Now().UTC()
	return s.save(h.doc)
}

func (s *Store) handleFor(conversationID string) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.conversations[conversationID]
	if !ok {
		h = &handle{}
		s.conversations[conversationID] = h
	}
	return h
}

// ensureLoaded populates the handle from disk on first access. Caller must
// hold the handle lock. A document that fails to parse is treated as
// conversation-not-found: reads see a fresh document and the next write
// replaces the corrupt file with a valid one.
func (s *Store) ensureLoaded(conversationID string, h *handle) {
	if h.loaded {
		return
	}
	h.loaded = true

	path := s.docPath(conversationID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("Failed to read conversation document %s: %v", path, err)
		}
		h.doc = newDoc(conversationID)
		return
	}

	var doc models.ConversationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warnf("Conversation document %s is corrupt, treating as not found: %v", path, err)
		h.doc = newDoc(conversationID)
		return
	}
	if doc.Threads == nil {
		doc.Threads = make(map[string]*models.ThreadSession)
	}
	doc.ConversationID = conversationID
	h.doc = &doc
}

// save writes the complete document via a temp file and rename, so a crash
// never leaves a partial document behind
func (s *Store) save(doc *models.ConversationDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation document: %w", err)
	}

	path := s.docPath(doc.ConversationID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write conversation document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace conversation document: %w", err)
	}
	return nil
}

// docPath derives the document filename from the conversation id. The
// escaping is injective, so distinct ids (a/b vs a:b vs a_b) never collide
// onto one file.
func (s *Store) docPath(conversationID string) string {
	return filepath.Join(s.dir, url.QueryEscape(conversationID)+".json")
}

func newDoc(conversationID string) *models.ConversationDoc {
	return &models.ConversationDoc{
		ConversationID: conversationID,
		Threads:        make(map[string]*models.ThreadSession),
	}
}
