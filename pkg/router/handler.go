package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// HttpErrorHandler renders unhandled errors with the standard envelope.
func HttpErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	response := &Response{
		Status:  false,
		Code:    code,
		Message: err.Error(),
		Error:   err.Error(),
	}
	logError(c, code, response.Message)
	return c.Status(code).JSON(response)
}
