package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klarnow/tracker/common/dto"
	"github.com/klarnow/tracker/common/errors"
)

func errorBody(t *testing.T, err error) (int, dto.APIResponse) {
	t.Helper()
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return Error(c, err) })

	resp, testErr := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, testErr)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var body dto.APIResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func TestError_SentinelMapping(t *testing.T) {
	status, body := errorBody(t, fmt.Errorf("toggle: %w", errors.ErrInvalidChecklistLabel))

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)
}

func TestError_AppErrorKeepsMessageAndDetails(t *testing.T) {
	err := errors.ValidationError("validation failed", map[string]string{"phase_id": "required"})

	status, body := errorBody(t, err)

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation failed", body.Error.Message)
	assert.Equal(t, "required", body.Error.Details["phase_id"])
}

func TestError_HidesInternalMessages(t *testing.T) {
	status, body := errorBody(t, fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
}

func TestParsePagination(t *testing.T) {
	app := fiber.New()
	var got dto.PaginationParams
	app.Get("/", func(c *fiber.Ctx) error {
		got = ParsePagination(c)
		return SuccessWithMeta(c, []string{}, got.Meta(41))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/?page=0&page_size=500", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, dto.MaxPageSize, got.PageSize)
	assert.Equal(t, 0, got.Offset())

	meta := dto.PaginationParams{Page: 2, PageSize: 20}.Meta(41)
	assert.Equal(t, 3, meta.TotalPages)
	assert.Equal(t, int64(41), meta.TotalCount)
}
