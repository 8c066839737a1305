package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/loomhq/loom/internal/convstore"
	"github.com/loomhq/loom/internal/fork"
	"github.com/loomhq/loom/internal/models"
	"github.com/loomhq/loom/internal/transcript"
)

// ConversationsHandler serves transcript views and fork resolution for a
// conversation
type ConversationsHandler struct {
	store    *convstore.Store
	resolver *fork.Resolver
}

// NewConversationsHandler creates a new conversations handler
func NewConversationsHandler(store *convstore.Store, resolver *fork.Resolver) *ConversationsHandler {
	return &ConversationsHandler{store: store, resolver: resolver}
}

// GetTurns returns the conversation's transcript grouped into turns and
// segments
func (h *ConversationsHandler) GetTurns(c *fiber.Ctx) error {
	path := c.Query("transcript")
	if path == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "transcript query parameter is required",
		})
	}

	records, err := transcript.NewReader(path).ReadAll()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	turns := transcript.GroupByTurn(records)
	return c.JSON(fiber.Map{
		"conversation_id": c.Params("id"),
		"turns":           turns,
		"turn_count":      len(turns),
	})
}

// GetEvents returns the conversation's transcript as a normalized event
// stream
func (h *ConversationsHandler) GetEvents(c *fiber.Ctx) error {
	path := c.Query("transcript")
	if path == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "transcript query parameter is required",
		})
	}

	records, err := transcript.NewReader(path).ReadAll()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"conversation_id": c.Params("id"),
		"events":          transcript.Normalize(records),
	})
}

// RecordMessageRequest indexes one externally posted message
type RecordMessageRequest struct {
	ExternalRef       string    `json:"external_ref"`
	PostedAt          time.Time `json:"posted_at"`
	InternalMessageID string    `json:"internal_message_id"`
	Kind              string    `json:"kind"`
	ParentRef         string    `json:"parent_ref,omitempty"`
	IsContinuation    bool      `json:"is_continuation,omitempty"`
}

// RecordMessage appends a message index entry for the conversation
func (h *ConversationsHandler) RecordMessage(c *fiber.Ctx) error {
	var req RecordMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.ExternalRef == "" || req.InternalMessageID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "external_ref and internal_message_id are required",
		})
	}
	kind := models.MessageKind(req.Kind)
	if kind != models.MessageKindUser && kind != models.MessageKindAssistant {
		return c.Status(400).JSON(fiber.Map{
			"error": "kind must be user or assistant",
		})
	}
	if req.PostedAt.IsZero() {
		req.PostedAt = time.Now().UTC()
	}

	entry := models.MessageIndexEntry{
		ExternalRef:       req.ExternalRef,
		PostedAt:          req.PostedAt,
		InternalMessageID: req.InternalMessageID,
		Kind:              kind,
		ParentRef:         req.ParentRef,
		IsContinuation:    req.IsContinuation,
	}
	if err := h.store.RecordMessage(c.Params("id"), entry); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(201).JSON(entry)
}

// ResolveForkRequest asks for the fork point behind an external ref
type ResolveForkRequest struct {
	ExternalRef string `json:"external_ref"`
}

// ResolveFork resolves the internal message id a fork at the given external
// ref should resume from. An empty id means "fresh thread, nothing to
// resume", which is a valid outcome, not an error.
func (h *ConversationsHandler) ResolveFork(c *fiber.Ctx) error {
	var req ResolveForkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.ExternalRef == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "external_ref is required",
		})
	}

	internalID, err := h.resolver.ResolveForkPoint(c.Params("id"), req.ExternalRef)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"external_ref":        req.ExternalRef,
		"internal_message_id": internalID,
		"resumable":           internalID != "",
	})
}
