package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes token issuance endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type ownerTokenRequest struct {
	Account string `json:"account"`
	Key     string `json:"key"`
}

// OwnerToken exchanges the owner key for an owner token.
func (h *Handler) OwnerToken(c *fiber.Ctx) error {
	var req ownerTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tok, err := h.svc.IssueOwner(req.Account, req.Key)
	switch {
	case errors.Is(err, ErrOwnerLoginDisabled):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(tok)
}

// HolderToken issues a token for the account in the path. Mounted behind owner auth.
func (h *Handler) HolderToken(c *fiber.Ctx) error {
	tok, err := h.svc.IssueHolder(c.Params("account"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(tok)
}
