package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/requestid"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:      errType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  c.Path(),
		RequestID: requestid.FromContext(c.UserContext()),
	}, "application/problem+json")
}

// problemFor maps a domain error onto a problem response.
func problemFor(c *fiber.Ctx, err error) error {
	var ve *perrors.ValidationError
	switch {
	case errors.As(err, &ve):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", ve.Error())
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", "The requested resource does not exist")
	case errors.Is(err, perrors.ErrAuthFailure):
		return problemResponse(c, fiber.StatusUnauthorized, "auth_failure", "Unauthorized", "Authentication failed")
	case errors.Is(err, perrors.ErrStorage):
		return problemResponse(c, fiber.StatusInternalServerError, "storage_failure", "Internal Server Error", "The request could not be stored, please retry")
	}
	return err
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Str("request_id", requestid.FromContext(c.UserContext())).
			Msg("unhandled error")

		detail, title, errType := err.Error(), "Request Failed", "request_failed"
		if code == fiber.StatusInternalServerError {
			detail, title, errType = "An internal error occurred", "Internal Server Error", "internal_error"
		}
		return problemResponse(c, code, errType, title, detail)
	}
}
