package api

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/utils"
)

type handler struct {
	d Deps
}

func (h *handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"node":        h.d.Hub.NodeID(),
		"connections": h.d.Hub.Connections(),
	})
}

// GET /api/messages/unread
func (h *handler) unread(c *fiber.Ctx) error {
	ids, err := h.d.Unread.Unread(c.UserContext(), auth.Username(c))
	if err != nil {
		return h.fail(c, "unread", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return utils.JSONSuccess(c, fiber.StatusOK, fiber.Map{"unread": ids, "count": len(ids)})
}

// GET /api/messages/chats
func (h *handler) chats(c *fiber.Ctx) error {
	inbox, err := h.d.Messenger.Inbox(c.UserContext(), auth.Username(c))
	if err != nil {
		return h.fail(c, "chats", err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, inbox)
}

func (h *handler) presence(c *fiber.Ctx) error {
	info, err := h.d.Presence.Get(c.UserContext(), c.Params("username"))
	if err != nil {
		return h.fail(c, "presence", err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, info)
}

// POST /api/messages/attachments (multipart "file")
func (h *handler) uploadAttachment(c *fiber.Ctx) error {
	if h.d.Media == nil {
		return utils.JSONError(c, fiber.StatusServiceUnavailable, "attachments are disabled")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return utils.JSONError(c, fiber.StatusBadRequest, "file missing")
	}
	f, err := fh.Open()
	if err != nil {
		return utils.JSONError(c, fiber.StatusBadRequest, "cannot open file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return utils.JSONError(c, fiber.StatusBadRequest, "cannot read file")
	}

	att, err := h.d.Media.Upload(c.UserContext(), auth.Username(c), fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		return h.fail(c, "upload attachment", err)
	}
	return utils.JSONSuccess(c, fiber.StatusCreated, att)
}

// GET /api/messages/attachments/url?path=
func (h *handler) attachmentURL(c *fiber.Ctx) error {
	if h.d.Media == nil {
		return utils.JSONError(c, fiber.StatusServiceUnavailable, "attachments are disabled")
	}
	u, err := h.d.Media.URL(c.UserContext(), c.Query("path"))
	if err != nil {
		return h.fail(c, "attachment url", err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, fiber.Map{"url": u})
}

func (h *handler) fail(c *fiber.Ctx, op string, err error) error {
	var denied *domain.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		return utils.JSONError(c, fiber.StatusForbidden, denied.Message)
	case errors.Is(err, domain.ErrValidation):
		return utils.JSONError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return utils.JSONError(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrRateLimited):
		return utils.JSONError(c, fiber.StatusTooManyRequests, "rate limited")
	default:
		h.d.Log.Errorw(op+" failed", "username", auth.Username(c), "error", err)
		return utils.JSONError(c, fiber.StatusInternalServerError, "internal error")
	}
}
