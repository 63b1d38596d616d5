package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"hexbattle-server/middleware"
	"hexbattle-server/realtime"
	"hexbattle-server/services"
)

type MatchHandler struct {
	Matches *services.MatchService
	Hub     *realtime.Hub
}

type joinRequest struct {
	Username string `json:"username"`
	Scenario string `json:"scenario"`
}

type actionRequest struct {
	PlayerNumber int             `json:"playerNumber"`
	ActionType   string          `json:"actionType"`
	Payload      json.RawMessage `json:"payload"`
}

type reconnectRequest struct {
	Token string `json:"token"`
}

func SetupMatchRoutes(app *fiber.App, matches *services.MatchService, hub *realtime.Hub) {
	h := &MatchHandler{Matches: matches, Hub: hub}

	// 🔓 Read-only views and the event stream itself
	app.Get("/lobby", h.GetLobby)
	app.Get("/lobby/stream", StreamEvents(hub, matches))
	app.Get("/matches/:uuid/state", h.GetState)

	// 🔐 Commands must come from an open stream
	conn := middleware.ConnectionMiddleware(hub)
	app.Post("/lobby/join", conn, h.Join)
	app.Post("/lobby/leave", conn, h.Leave)
	app.Post("/matches/:uuid/accept", conn, h.Accept)
	app.Post("/matches/:uuid/actions", conn, h.SubmitAction)
	app.Post("/matches/:uuid/heartbeat", conn, h.Heartbeat)
	app.Post("/matches/:uuid/reconnect", conn, h.Reconnect)
}

func (h *MatchHandler) GetLobby(c *fiber.Ctx) error {
	waiting := h.Matches.Queue.Waiting()
	list := make([]services.LobbyEntry, len(waiting))
	for i, t := range waiting {
		list[i] = services.LobbyEntry{Username: t.Username, Scenario: t.Scenario, SocketID: t.Identity}
	}
	return c.JSON(list)
}

func (h *MatchHandler) GetState(c *fiber.Ctx) error {
	v, err := h.Matches.Store.Get(c.Params("uuid"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(v.Snapshot)
}

func (h *MatchHandler) Join(c *fiber.Ctx) error {
	var req joinRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if err := h.Matches.Join(c.UserContext(), middleware.ConnectionID(c), req.Username, req.Scenario); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "waiting"})
}

func (h *MatchHandler) Leave(c *fiber.Ctx) error {
	h.Matches.Disconnect(c.UserContext(), middleware.ConnectionID(c))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MatchHandler) Accept(c *fiber.Ctx) error {
	uuid := c.Params("uuid")
	state, err := h.Matches.AcceptMatch(middleware.ConnectionID(c), uuid)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(services.MatchAccepted{UUID: uuid, State: state})
}

func (h *MatchHandler) SubmitAction(c *fiber.Ctx) error {
	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	err := h.Matches.SubmitAction(c.UserContext(), middleware.ConnectionID(c), c.Params("uuid"),
		req.PlayerNumber, req.ActionType, req.Payload)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *MatchHandler) Heartbeat(c *fiber.Ctx) error {
	if err := h.Matches.Heartbeat(c.UserContext(), c.Params("uuid")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MatchHandler) Reconnect(c *fiber.Ctx) error {
	var req reconnectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	uuid := c.Params("uuid")
	player, state, err := h.Matches.Reconnect(c.UserContext(), middleware.ConnectionID(c), uuid, req.Token)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(services.MatchResumed{UUID: uuid, PlayerNumber: player, State: state})
}

func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrInvalidAction):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyQueued), errors.Is(err, services.ErrAlreadyInSession):
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"error": services.ErrorMessage(err)})
}
