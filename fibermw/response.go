package fibermw

import "github.com/gofiber/fiber/v2"

// ErrorResponse is the JSON body written for rejected requests.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(ErrorResponse{Code: code, Message: message})
}

// ActorFunc extracts the caller identity from a request.
type ActorFunc func(c *fiber.Ctx) string

// IPActor identifies callers by remote address.
func IPActor(c *fiber.Ctx) string {
	return c.IP()
}
