package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"salesflow/config"
	"salesflow/models"
	"salesflow/utils"
)

// Protected resolves the current authenticated actor from a bearer token (or
// access_token cookie) and stores the user in the request context. Token
// issuance lives in the identity service; this only verifies and resolves.
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			token = c.Cookies("access_token")
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		var user models.User
		if err := config.DB.First(&user, claims.UserID).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		if !user.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Account is disabled",
			})
		}

		c.Locals("user", &user)
		return c.Next()
	}
}

// SchedulerToken guards internal endpoints invoked by external cron without
// a user session.
func SchedulerToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Scheduler-Token")
		if config.AppConfig.SchedulerToken == "" || token != config.AppConfig.SchedulerToken {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid scheduler token",
			})
		}
		return c.Next()
	}
}
