package convstore

import (
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
)

// RecordMessage appends an index entry for a newly posted external message.
// Entries are immutable: recording an already-indexed external ref is a
// no-op, never an overwrite.
func (s *Store) RecordMessage(conversationID string, entry models.MessageIndexEntry) error {
	return s.Update(conversationID, func(doc *models.ConversationDoc) error {
		for _, existing := range doc.Index {
			if existing.ExternalRef == entry.ExternalRef {
				logger.Debugf("External ref %s already indexed for %s, keeping original", entry.ExternalRef, conversationID)
				return nil
			}
		}

		// Entries arrive in posting order almost always; insertion from the
		// back keeps the index sorted by external timestamp regardless
		doc.Index = append(doc.Index, entry)
		for i := len(doc.Index) - 1; i > 0; i-- {
			if !doc.Index[i].PostedAt.Before(doc.Index[i-1].PostedAt) {
				break
			}
			doc.Index[i], doc.Index[i-1] = doc.Index[i-1], doc.Index[i]
		}
		return nil
	})
}

// Lookup returns the index entry for an external ref, or nil when the ref
// was never indexed
func (s *Store) Lookup(conversationID, externalRef string) (*models.MessageIndexEntry, error) {
	var found *models.MessageIndexEntry
	err := s.View(conversationID, func(doc *models.ConversationDoc) {
		for i := range doc.Index {
			if doc.Index[i].ExternalRef == externalRef {
				entry := doc.Index[i]
				found = &entry
				return
			}
		}
	})
	return found, err
}

// FindLastAssistantBefore returns the most recent assistant entry strictly
// before the referenced message, skipping user-authored entries. Returns nil
// when the ref is unmapped or no prior assistant entry exists.
func (s *Store) FindLastAssistantBefore(conversationID, externalRef string) (*models.MessageIndexEntry, error) {
	var found *models.MessageIndexEntry
	err := s.View(conversationID, func(doc *models.ConversationDoc) {
		position := -1
		for i := range doc.Index {
			if doc.Index[i].ExternalRef == externalRef {
				position = i
				break
			}
		}
		if position < 0 {
			return
		}

		for i := position - 1; i >= 0; i-- {
			if doc.Index[i].Kind == models.MessageKindAssistant {
				entry := doc.Index[i]
				found = &entry
				return
			}
		}
	})
	return found, err
}
