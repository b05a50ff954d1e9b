package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/domain"
	"github.com/fathima-sithara/delivery-service/internal/utils"
)

type Handlers struct {
	delivery Delivery
	sessions Sessions
	log      *zap.Logger
	service  string
	version  string
	timeout  time.Duration
}

func (h *Handlers) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout)
}

func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	h.log.Error("request failed", zap.String("path", c.Path()), zap.String("user", userID(c)), zap.Error(err))
	msg := "internal error"
	if errors.Is(err, domain.ErrPersistence) {
		msg = domain.ErrPersistence.Error()
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": msg})
}

func (h *Handlers) badBody(c *fiber.Ctx, err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
}

func (h *Handlers) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": utils.RFC3339(utils.NowUTC()),
		"service":   h.service,
		"version":   h.version,
	})
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var body struct {
		To          string `json:"to" validate:"required"`
		Message     string `json:"message" validate:"required"`
		MessageBack string `json:"messageBack" validate:"required"`
		Type        string `json:"type"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
	}
	if err := domain.Validate(&body); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.delivery.Send(ctx, domain.SendRequest{
		From:        userID(c),
		To:          body.To,
		Message:     body.Message,
		MessageBack: body.MessageBack,
		Type:        body.Type,
		Device:      device(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": res})
}

func (h *Handlers) listConversations(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	list, err := h.delivery.Conversations(ctx, userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": list})
}

func (h *Handlers) history(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	conv, err := h.delivery.History(ctx, userID(c), c.Params("peer"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": conv})
}

func (h *Handlers) acknowledge(c *fiber.Ctx) error {
	var body struct {
		IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
	}
	if err := domain.Validate(&body); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.sessions.Acknowledge(ctx, userID(c), device(c), body.IDs); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

type presenceBody struct {
	FocusedPeer string `json:"focusedPeer" validate:"omitempty,userid"`
	Peer        string `json:"peer" validate:"omitempty,userid"`
}

func parsePresence(c *fiber.Ctx) (presenceBody, error) {
	var body presenceBody
	if len(c.Body()) == 0 {
		return body, nil
	}
	if err := c.BodyParser(&body); err != nil {
		return body, err
	}
	return body, domain.Validate(&body)
}

func (h *Handlers) connect(c *fiber.Ctx) error {
	body, err := parsePresence(c)
	if err != nil {
		return h.badBody(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	entries, err := h.sessions.Connect(ctx, userID(c), device(c), body.FocusedPeer)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"pending": entries}})
}

func (h *Handlers) heartbeat(c *fiber.Ctx) error {
	body, err := parsePresence(c)
	if err != nil {
		return h.badBody(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.sessions.Heartbeat(ctx, userID(c), device(c), body.FocusedPeer); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *Handlers) focus(c *fiber.Ctx) error {
	body, err := parsePresence(c)
	if err != nil {
		return h.badBody(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	ids, err := h.sessions.Focus(ctx, userID(c), device(c), body.Peer)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"seen": ids}})
}

func (h *Handlers) disconnect(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.sessions.Disconnect(ctx, userID(c), device(c)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
