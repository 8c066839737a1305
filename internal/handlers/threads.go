package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/loomhq/loom/internal/session"
)

// ThreadsHandler serves the durable thread session registry
type ThreadsHandler struct {
	registry *session.Registry
}

// NewThreadsHandler creates a new threads handler
func NewThreadsHandler(registry *session.Registry) *ThreadsHandler {
	return &ThreadsHandler{registry: registry}
}

// ListThreads returns all live thread sessions for a conversation
func (h *ThreadsHandler) ListThreads(c *fiber.Ctx) error {
	threads, err := h.registry.List(c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"conversation_id": c.Params("id"),
		"threads":         threads,
	})
}

// GetThread returns one thread session
func (h *ThreadsHandler) GetThread(c *fiber.Ctx) error {
	thread, err := h.registry.Get(c.Params("id"), c.Params("key"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if thread == nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "thread not found",
		})
	}
	return c.JSON(thread)
}

// CreateThreadRequest seeds a new (possibly forked) thread session
type CreateThreadRequest struct {
	ThreadKey         string `json:"thread_key"`
	ForkedFrom        string `json:"forked_from,omitempty"`
	ResumeAtMessageID string `json:"resume_at_message_id,omitempty"`
	WorkingDir        string `json:"working_dir,omitempty"`
	PermissionMode    string `json:"permission_mode,omitempty"`
}

// GetOrCreateThread returns the existing thread session for the key or
// creates a new one
func (h *ThreadsHandler) GetOrCreateThread(c *fiber.Ctx) error {
	var req CreateThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.ThreadKey == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "thread_key is required",
		})
	}

	thread, created, err := h.registry.GetOrCreate(c.Params("id"), req.ThreadKey, session.CreateOptions{
		ForkedFrom:        req.ForkedFrom,
		ResumeAtMessageID: req.ResumeAtMessageID,
		WorkingDir:        req.WorkingDir,
		PermissionMode:    req.PermissionMode,
	})
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	status := 200
	if created {
		status = 201
	}
	return c.Status(status).JSON(thread)
}

// ActivateThreadRequest carries the agent session id observed on the first
// successful turn
type ActivateThreadRequest struct {
	SessionID string `json:"session_id"`
}

// ActivateThread records the agent session id for a thread
func (h *ThreadsHandler) ActivateThread(c *fiber.Ctx) error {
	var req ActivateThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.SessionID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	if err := h.registry.MarkActive(c.Params("id"), c.Params("key"), req.SessionID); err != nil {
		return c.Status(409).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(204)
}

// ConfigureThreadRequest pins a working path to a thread
type ConfigureThreadRequest struct {
	Path         string `json:"path"`
	ConfiguredBy string `json:"configured_by,omitempty"`
}

// ConfigureThread records the working path a user pinned to the thread
func (h *ThreadsHandler) ConfigureThread(c *fiber.Ctx) error {
	var req ConfigureThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Path == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "path is required",
		})
	}

	if err := h.registry.Configure(c.Params("id"), c.Params("key"), req.Path, req.ConfiguredBy); err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(204)
}

// ArchiveThread archives a thread session. Archival is terminal.
func (h *ThreadsHandler) ArchiveThread(c *fiber.Ctx) error {
	if err := h.registry.Archive(c.Params("id"), c.Params("key")); err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(204)
}
