package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "ok"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "ok")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteUnauthorized(w, "Authentication required")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeError(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, "Authentication required", body.Message)
}

func TestWriteAppError(t *testing.T) {
	t.Run("authorization carries requirements", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteAppError(w, apperrors.Authorization("Insufficient permissions", "audit:read"))

		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "Insufficient permissions", body.Message)
		assert.Equal(t, []string{"audit:read"}, body.RequiredPermissions)
	})

	t.Run("role requirement", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteAppError(w, apperrors.RoleRequired("Insufficient role", "admin"))

		body := decodeError(t, w)
		assert.Equal(t, []string{"admin"}, body.RequiredRoles)
	})

	t.Run("unclassified error is hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteAppError(w, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "Internal server error", body.Message)
		assert.NotContains(t, w.Body.String(), "pq:")
	})
}

func TestWriteWarning(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteWarning(w, "event already processed"))

	assert.Equal(t, http.StatusOK, w.Code)
	var body SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "event already processed", body.Warning)
}
