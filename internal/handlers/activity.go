package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/session"
)

// ActivityHandler serves live and retained activity for tailed conversations
type ActivityHandler struct {
	monitor *session.Monitor
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(monitor *session.Monitor) *ActivityHandler {
	return &ActivityHandler{monitor: monitor}
}

// StartTailRequest begins tailing a conversation transcript
type StartTailRequest struct {
	Transcript      string `json:"transcript"`
	ThreadKey       string `json:"thread_key,omitempty"`
	RetainCompleted bool   `json:"retain_completed,omitempty"`
}

// StartTail starts watching a conversation's transcript for activity
func (h *ActivityHandler) StartTail(c *fiber.Ctx) error {
	var req StartTailRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Transcript == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "transcript is required",
		})
	}

	err := h.monitor.StartTail(context.Background(), c.Params("id"), req.Transcript, session.TailOptions{
		ThreadKey:       req.ThreadKey,
		PollInterval:    config.Runtime.PollInterval,
		RetainCompleted: req.RetainCompleted,
	})
	if err != nil {
		return c.Status(409).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(202)
}

// StopTail stops watching a conversation's transcript
func (h *ActivityHandler) StopTail(c *fiber.Ctx) error {
	h.monitor.StopTail(c.Params("id"))
	return c.SendStatus(204)
}

// GetActivity returns the in-flight turn's activity log
func (h *ActivityHandler) GetActivity(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"conversation_id": c.Params("id"),
		"activity":        h.monitor.Activity(c.Params("id")),
	})
}

// GetRetainedActivity returns the last completed turn's retained activity
func (h *ActivityHandler) GetRetainedActivity(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"conversation_id": c.Params("id"),
		"activity":        h.monitor.RetainedActivity(c.Params("id")),
	})
}

// StreamActivity upgrades to a websocket and streams activity entries as
// they are observed
func (h *ActivityHandler) StreamActivity(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	conversationID := c.Params("id")
	return websocket.New(func(conn *websocket.Conn) {
		h.streamTo(conn, conversationID)
	})(c)
}

func (h *ActivityHandler) streamTo(conn *websocket.Conn, conversationID string) {
	defer conn.Close()

	entries, cancel, err := h.monitor.Subscribe(conversationID)
	if err != nil {
		payload, _ := json.Marshal(fiber.Map{"error": err.Error()})
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		return
	}
	defer cancel()

	// Reader goroutine detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				logger.Warnf("Failed to marshal activity entry: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
