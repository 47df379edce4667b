package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/gascredit/internal/auth"
)

const (
	callerLocal = "caller"
	roleLocal   = "caller_role"
)

// CallerAuth validates the bearer token and stores the caller identity in Locals.
func CallerAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := svc.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if errors.Is(err, auth.ErrTokenExpired) {
			return fiber.NewError(http.StatusUnauthorized, "token expired")
		}
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(callerLocal, claims.Subject)
		c.Locals(roleLocal, claims.Role)
		return c.Next()
	}
}

// RequireOwner rejects callers whose token does not carry the owner role.
func RequireOwner() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role, _ := c.Locals(roleLocal).(auth.Role); role != auth.RoleOwner {
			return fiber.NewError(http.StatusForbidden, "owner only")
		}
		return c.Next()
	}
}

// Caller returns the authenticated caller, empty when CallerAuth did not run.
func Caller(c *fiber.Ctx) string {
	caller, _ := c.Locals(callerLocal).(string)
	return caller
}
