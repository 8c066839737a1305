package fork

import (
	"github.com/loomhq/loom/internal/convstore"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
)

// Resolver maps an externally visible message reference to the internal
// message id a forked session should resume from. Resolution is a pure
// function of the persisted index at call time; it performs no agent I/O.
type Resolver struct {
	store *convstore.Store
}

// NewResolver creates a resolver backed by the given conversation store
func NewResolver(store *convstore.Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveForkPoint determines the internal message id to fork from.
//
// An assistant ref forks from that very message. A user ref forks from the
// nearest assistant entry strictly preceding it: replying to your own
// message must fork from the agent's last answer before it, never one that
// came later. An unmapped ref, or a ref with no qualifying prior assistant
// entry, resolves to empty; callers treat that as "fresh thread with no
// resumable state", not an error.
func (r *Resolver) ResolveForkPoint(conversationID, externalRef string) (string, error) {
	entry, err := r.store.Lookup(conversationID, externalRef)
	if err != nil {
		return "", err
	}
	if entry == nil {
		logger.Debugf("External ref %s not indexed for %s, forking without resume point", externalRef, conversationID)
		return "", nil
	}

	if entry.Kind == models.MessageKindAssistant {
		return entry.InternalMessageID, nil
	}

	prior, err := r.store.FindLastAssistantBefore(conversationID, externalRef)
	if err != nil {
		return "", err
	}
	if prior == nil {
		return "", nil
	}
	return prior.InternalMessageID, nil
}
