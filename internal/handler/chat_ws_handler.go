package handler

import (
	"context"

	"ai-chatrelay-be/internal/pkg/logger"
	"ai-chatrelay-be/internal/relay"
	"ai-chatrelay-be/internal/service"
	internalWS "ai-chatrelay-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ChatWsHandler upgrades a chat connection and hands it to the relay engine
// for the lifetime of the socket.
type ChatWsHandler struct {
	engine      *relay.Engine
	chatService service.IChatService
	logger      logger.ILogger
}

func NewChatWsHandler(engine *relay.Engine, chatService service.IChatService, log logger.ILogger) *ChatWsHandler {
	return &ChatWsHandler{
		engine:      engine,
		chatService: chatService,
		logger:      log,
	}
}

func (h *ChatWsHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/chat/:session_id", h.ServeWs)
}

// ServeWs validates the handshake, then blocks inside the relay engine until
// the client disconnects.
func (h *ChatWsHandler) ServeWs(c *fiber.Ctx) error {
	sessionID, err := uuid.Parse(c.Params("session_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session ID"})
	}

	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing or invalid user_id"})
	}

	owned, err := h.chatService.VerifyOwnership(c.UserContext(), sessionID, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if !owned {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info("ChatWsHandler", "Chat session connected", map[string]interface{}{
				"session_id": sessionID, "user_id": userID,
			})

			handle := internalWS.NewConnHandle(conn)
			go handle.PingLoop()

			// The handler goroutine belongs to the relay until disconnect.
			h.engine.Run(context.Background(), handle, handle, sessionID, userID)
			handle.Close()

			h.logger.Info("ChatWsHandler", "Chat session ended", map[string]interface{}{
				"session_id": sessionID, "user_id": userID,
			})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}
