package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/gascredit/internal/auth"
	"github.com/congo-pay/gascredit/internal/middleware"
)

// RegisterAuthRoutes wires token issuance endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, callerAuth fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/owner/token", h.OwnerToken)
	group.Post("/holders/:account/token", callerAuth, middleware.RequireOwner(), h.HolderToken)
}
