package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body for errors that escape a handler. Expected
// failures (validation, missing origin) are answered inline with their
// own shapes; anything landing here is a routing error or a genuine 500.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ErrorHandler is the app-level Fiber error handler. Unknown errors are
// masked as a generic 500 so internal details never reach the wire.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	return c.Status(code).JSON(ErrorResponse{Error: message})
}
