package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"authentication", Authentication("Authentication required"), http.StatusUnauthorized},
		{"authorization", Authorization("Insufficient permissions", "users:read"), http.StatusForbidden},
		{"role", RoleRequired("Insufficient role", "admin"), http.StatusForbidden},
		{"conflict", Conflict("already exists"), http.StatusConflict},
		{"validation", Validation("bad role"), http.StatusUnprocessableEntity},
		{"not found", NotFound("no such user"), http.StatusNotFound},
		{"rate limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	cause := errors.New("provider timeout")
	err := fmt.Errorf("ensure local user: %w", Authentication("user not found and auto-sync failed").Wrap(cause))

	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.True(t, IsKind(err, KindAuthentication))
	assert.False(t, IsKind(err, KindConflict))
	assert.ErrorIs(t, err, cause)

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "user not found and auto-sync failed", appErr.Message)
	assert.Contains(t, appErr.Error(), "provider timeout")
}

func TestAuthorization_CarriesRequirements(t *testing.T) {
	err := Authorization("Insufficient permissions", "audit:read", "audit:export")
	assert.Equal(t, []string{"audit:read", "audit:export"}, err.RequiredPermissions)
	assert.Empty(t, err.RequiredRoles)

	roleErr := RoleRequired("Insufficient role", "admin")
	assert.Equal(t, []string{"admin"}, roleErr.RequiredRoles)
}
