package factory

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/gascredit/internal/costmodel"
	"github.com/congo-pay/gascredit/internal/ledger"
	"github.com/congo-pay/gascredit/internal/middleware"
)

// Handler exposes the factory over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs a factory handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Purchase is the sale's purchase hook.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.service.Purchase(c.UserContext(), middleware.Caller(c), req.Account, req.PaidAmount)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(newReceiptResponse(rec))
}

// Finalize is the sale's finalize hook.
func (h *Handler) Finalize(c *fiber.Ctx) error {
	if err := h.service.Finalize(c.UserContext(), middleware.Caller(c)); err != nil {
		return httpError(err)
	}
	supply, err := h.service.Supply(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(supplyResponse{TotalSupply: supply.TotalSupply, Phase: supply.Phase})
}

// SetCap replaces an account's purchase allowance.
func (h *Handler) SetCap(c *fiber.Ctx) error {
	var req setCapRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.SetCap(c.UserContext(), middleware.Caller(c), req.Account, req.Cap); err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"account": req.Account, "cap": req.Cap})
}

// Supply reports the total supply and phase.
func (h *Handler) Supply(c *fiber.Ctx) error {
	supply, err := h.service.Supply(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(supplyResponse{TotalSupply: supply.TotalSupply, Phase: supply.Phase})
}

// Account reports one account's balance and allowance.
func (h *Handler) Account(c *fiber.Ctx) error {
	acct, err := h.service.Account(c.UserContext(), c.Params("account"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(accountResponse{Account: acct.Account, Balance: acct.Balance, Allowance: acct.Allowance})
}

// Redeem burns credits from the authenticated caller.
func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.service.Redeem(c.UserContext(), middleware.Caller(c), req.Amount, req.Payment)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(newReceiptResponse(rec))
}

// RedeemQuote returns the payment required to redeem ?amount= credits.
func (h *Handler) RedeemQuote(c *fiber.Ctx) error {
	amount, err := queryUint(c, "amount")
	if err != nil {
		return err
	}
	cost, err := h.service.RedeemCost(amount)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(redeemQuoteResponse{Amount: amount, RedeemCost: cost})
}

// OptimalQuote returns the best redemption for ?operation_cost=, clamped to
// ?account='s balance when given.
func (h *Handler) OptimalQuote(c *fiber.Ctx) error {
	rawCost, err := queryUint(c, "operation_cost")
	if err != nil {
		return err
	}
	account := c.Query("account")
	quote, err := h.service.OptimalAmount(c.UserContext(), account, rawCost)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(newOptimalQuoteResponse(account, quote))
}

func queryUint(c *fiber.Ctx, key string) (uint64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, fiber.NewError(http.StatusBadRequest, key+" is required")
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid "+key)
	}
	return v, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrPhase):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrCapExceeded),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ErrPaymentMismatch),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrOverflow),
		errors.Is(err, costmodel.ErrOverflow):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
