package httputil

import (
	"github.com/gofiber/fiber/v2"

	"github.com/klarnow/tracker/common/dto"
	"github.com/klarnow/tracker/common/errors"
)

// Success sends data with 200
func Success(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(dto.OK(data))
}

// SuccessWithMeta sends a page of data with its paging metadata
func SuccessWithMeta(c *fiber.Ctx, data any, meta *dto.APIMeta) error {
	resp := dto.OK(data)
	resp.Meta = meta
	return c.Status(fiber.StatusOK).JSON(resp)
}

// Created sends data with 201
func Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(dto.OK(data))
}

// Error maps err to a status through errors.HTTPStatusCode. AppError
// messages and details reach the client; other 500s are masked.
func Error(c *fiber.Ctx, err error) error {
	status := errors.HTTPStatusCode(err)
	code := dto.CodeForStatus(status)

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		if len(appErr.Details) > 0 && status == fiber.StatusBadRequest {
			code = dto.CodeValidation
		}
		return c.Status(status).JSON(dto.Fail(code, appErr.Message, appErr.Details))
	}

	message := err.Error()
	if status == fiber.StatusInternalServerError {
		message = "internal server error"
	}
	return c.Status(status).JSON(dto.Fail(code, message, nil))
}

// BadRequest sends a 400 with message
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.Fail(dto.CodeBadRequest, message, nil))
}

// Unauthorized sends a 401
func Unauthorized(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "authentication required"
	}
	return c.Status(fiber.StatusUnauthorized).JSON(dto.Fail(dto.CodeUnauthorized, message, nil))
}

// ValidationError sends a 400 listing the offending fields
func ValidationError(c *fiber.Ctx, message string, fields map[string]string) error {
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	return c.Status(fiber.StatusBadRequest).JSON(dto.Fail(dto.CodeValidation, message, details))
}

// InternalError sends a 500
func InternalError(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "internal server error"
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.Fail(dto.CodeInternal, message, nil))
}

// RateLimitExceeded sends a 429
func RateLimitExceeded(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(dto.Fail(dto.CodeRateLimited, "too many requests", nil))
}

// ParsePagination reads ?page= and ?page_size=
func ParsePagination(c *fiber.Ctx) dto.PaginationParams {
	p := dto.PaginationParams{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", dto.DefaultPageSize),
	}
	p.Normalize()
	return p
}
