// Package httputil holds small HTTP helpers shared by the API handlers:
// JSON response envelopes and per-request logging middleware.
package httputil

import (
	"github.com/gofiber/fiber/v3"
)

// SuccessResponse wraps successful API responses.
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Message string `json:"message"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Data: data})
}

// Fail sends a JSON error response with the given status and message.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorBody{Message: message},
	})
}
