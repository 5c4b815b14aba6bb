package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var scriptPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxRequestLength    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware performs coarse intake checks before a body reaches the
// handlers. SQL safety is not enforced here; the generation stage gates
// every statement before it can run.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxRequestLength == 0 {
		cfg.MaxRequestLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if c.Method() == "POST" && strings.Contains(c.Path(), "/api/v1/requests") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			text, ok := req["user_request"].(string)
			if !ok || text == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "user_request is required and must be a string",
				})
			}

			if len(text) > cfg.MaxRequestLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "user_request exceeds maximum length",
				})
			}

			if scriptPattern.MatchString(text) {
				cfg.Logger.Warn("Rejected request with embedded markup",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid request content",
				})
			}
		}

		return c.Next()
	}
}
