package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/gascredit/internal/factory"
	"github.com/congo-pay/gascredit/internal/middleware"
)

// CreditRoutes groups the handler and guards for the credit endpoints.
// Idempotency may be nil when no Redis is configured.
type CreditRoutes struct {
	Handler     *factory.Handler
	CallerAuth  fiber.Handler
	Idempotency fiber.Handler
	RedeemLimit fiber.Handler
}

// RegisterCreditRoutes wires the sale hooks, owner administration, redemption and quotes.
func RegisterCreditRoutes(r fiber.Router, cr CreditRoutes) {
	h := cr.Handler
	owner := []fiber.Handler{cr.CallerAuth, middleware.RequireOwner()}
	if cr.Idempotency != nil {
		owner = append(owner, cr.Idempotency)
	}

	hooks := r.Group("/hooks")
	hooks.Post("/purchase", chain(owner, h.Purchase)...)
	hooks.Post("/finalize", chain(owner, h.Finalize)...)

	credits := r.Group("/credits")
	credits.Post("/caps", chain(owner, h.SetCap)...)
	credits.Get("/supply", h.Supply)
	credits.Get("/accounts/:account", h.Account)
	credits.Get("/quote/redeem", h.RedeemQuote)
	credits.Get("/quote/optimal", h.OptimalQuote)

	redeem := []fiber.Handler{cr.CallerAuth, cr.RedeemLimit}
	if cr.Idempotency != nil {
		redeem = append(redeem, cr.Idempotency)
	}
	credits.Post("/redeem", chain(redeem, h.Redeem)...)
}

func chain(guards []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(guards)+1)
	out = append(out, guards...)
	return append(out, h)
}
