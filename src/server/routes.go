package server

import (
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/valyala/fasthttp"
)

// registerRoutes registers the admin and info routes on the fiber app.
// The WebSocket upgrade is served by handleUpgrade on the raw fasthttp
// handler, since Fiber v3 does not expose *fasthttp.RequestCtx.
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/ws/info", s.handleInfo)

	admin := s.app.Group("/admin")
	admin.Get("/stats", s.handleStats)
	admin.Get("/rooms", s.handleRooms)
	admin.Get("/rooms/:noteId/presence", s.handlePresence)
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket":   true,
		"endpoint":    "/ws",
		"connections": s.service.ActiveConnections(),
		"rooms":       len(s.service.GetRooms()),
	})
}

func (s *Server) handleStats(c fiber.Ctx) error {
	return c.JSON(s.service.GetStats())
}

func (s *Server) handleRooms(c fiber.Ctx) error {
	rooms := s.service.GetRooms()
	return c.JSON(fiber.Map{"rooms": rooms, "count": len(rooms)})
}

func (s *Server) handlePresence(c fiber.Ctx) error {
	noteID := c.Params("noteId")
	members, err := s.service.GetPresence(noteID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "room_not_found",
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"noteId": noteID, "presence": members})
}

// handleUpgrade upgrades /ws requests and runs the client's pumps for the
// lifetime of the connection.
func (s *Server) handleUpgrade(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}
	if limit := s.cfg.MaxConnections; limit > 0 && s.hub.ActiveCount() >= limit {
		s.logger.Warn().Int("max_connections", limit).Msg("connection limit reached")
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"too_many_connections","message":"connection limit reached"}`)
		return
	}

	clientID := uuid.New().String()
	h := s.hub
	err := s.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		wc := newWSConn(conn, s.cfg.MaxMessageSize, s.cfg.WriteDeadline(), s.cfg.PongWait())
		client := hub.NewClient(clientID, wc, h)
		h.Register(client)
		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// checkOrigin accepts any origin when no allow-list is configured.
func (s *Server) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := string(ctx.Request.Header.Peek("Origin"))
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("origin rejected")
	return false
}
