package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/router"
)

// AdminAuth validates the X-Admin-Secret header for admin endpoints
func AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		adminSecret := c.Get("X-Admin-Secret")
		if adminSecret == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}

		if AdminSecretKey == "" {
			return router.ResponseInternalError(c, "Admin secret key not configured")
		}

		if subtle.ConstantTimeCompare([]byte(adminSecret), []byte(AdminSecretKey)) != 1 {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}

		return c.Next()
	}
}

// InstanceAuth validates the JWT token from the Authorization header and
// binds the instance id from the claims into the request locals.
// Token format: "Bearer <jwt_token>". Validation is stateless.
func InstanceAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		tokenString := parts[1]
		if tokenString == "" {
			return router.ResponseUnauthorized(c, "Missing token")
		}

		claims, err := ValidateInstanceToken(tokenString)
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		c.Locals("instance_id", claims.InstanceID)
		c.Locals("instance_name", claims.Name)

		return c.Next()
	}
}
