package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automlhub/api/internal/apperrors"
)

func TestFromError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		details map[string]any
	}{
		{"validation", apperrors.Validation("name", "name is required"), http.StatusBadRequest, CodeValidationError, map[string]any{"name": "name is required"}},
		{"not found", apperrors.NotFound("job", "j1"), http.StatusNotFound, CodeNotFound, nil},
		{"missing object", apperrors.Storage("s3.GetObject", "k", apperrors.NotFound("object", "k")), http.StatusNotFound, CodeNotFound, nil},
		{"conflict", apperrors.Conflict("job", "j1", "job is DONE"), http.StatusConflict, CodeConflict, nil},
		{"remote", apperrors.RemoteAccess("compute.GetJob", 500, "boom", nil), http.StatusBadGateway, CodeComputeError, nil},
		{"storage", apperrors.Storage("s3.PutObject", "k", errors.New("denied")), http.StatusInternalServerError, CodeStorageError, nil},
		{"system", apperrors.System("serving bundle", "jar missing"), http.StatusInternalServerError, CodeSystemError, nil},
		{"plain", errors.New("whatever"), http.StatusInternalServerError, CodeServiceError, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return FromError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var out struct {
				Error struct {
					Code    string         `json:"code"`
					Message string         `json:"message"`
					Details map[string]any `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, tc.code, out.Error.Code)
			assert.Equal(t, tc.err.Error(), out.Error.Message)
			assert.Equal(t, tc.details, out.Error.Details)
		})
	}
}
